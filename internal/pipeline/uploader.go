// Package pipeline drives the scan, detect, upload and cleanup cycle.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papermes/scanner/internal/ledger"
)

// Uploader submits classified documents to the configured endpoint as a
// multipart POST. Timestamps are transmitted as epoch milliseconds. The
// Uploader performs exactly one attempt per call; retry bookkeeping
// belongs to the Loop.
type Uploader struct {
	endpoint   string
	token      string
	scratchDir string
	client     *http.Client
}

// NewUploader creates a new Uploader posting to the given endpoint
func NewUploader(endpoint, token, scratchDir string) (*Uploader, error) {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	return &Uploader{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		token:      token,
		scratchDir: scratchDir,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Upload transmits the record's backing file and metadata. A nil return
// means the endpoint acknowledged with a 2xx status.
func (u *Uploader) Upload(record *ledger.Record) error {
	if u.endpoint == "" {
		return fmt.Errorf("upload endpoint is not configured")
	}

	// Work from a scratch copy so the original cannot change or vanish
	// mid-transfer. The copy is removed whatever the outcome.
	scratchPath, err := u.copyToScratch(record.Path)
	if err != nil {
		return fmt.Errorf("copying to scratch: %w", err)
	}
	defer func() {
		if err := os.Remove(scratchPath); err != nil {
			slog.Warn("Failed to remove scratch copy", "path", scratchPath, "error", err)
		}
	}()

	body, contentType, err := u.buildRequestBody(record, scratchPath)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", u.endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling upload endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}

// CheckHealth probes the endpoint's health route with the same
// credentials. A nil return means the endpoint is reachable.
func (u *Uploader) CheckHealth(ctx context.Context) error {
	if u.endpoint == "" {
		return fmt.Errorf("upload endpoint is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling health endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check failed (status %d)", resp.StatusCode)
	}
	return nil
}

// copyToScratch copies the source file into the scratch directory
func (u *Uploader) copyToScratch(sourcePath string) (string, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer source.Close()

	scratchPath := filepath.Join(u.scratchDir, uuid.NewString()+filepath.Ext(sourcePath))
	scratch, err := os.Create(scratchPath)
	if err != nil {
		return "", fmt.Errorf("creating scratch file: %w", err)
	}
	defer scratch.Close()

	if _, err := io.Copy(scratch, source); err != nil {
		os.Remove(scratchPath)
		return "", fmt.Errorf("copying file: %w", err)
	}
	return scratchPath, nil
}

// buildRequestBody assembles the multipart payload from the scratch copy
func (u *Uploader) buildRequestBody(record *ledger.Record, scratchPath string) (io.Reader, string, error) {
	var body strings.Builder
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, record.Filename))
	header.Set("Content-Type", record.MimeType)
	filePart, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating document part: %w", err)
	}

	scratch, err := os.Open(scratchPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening scratch copy: %w", err)
	}
	defer scratch.Close()
	if _, err := io.Copy(filePart, scratch); err != nil {
		return nil, "", fmt.Errorf("writing document part: %w", err)
	}

	fields := map[string]string{
		"filename":      record.Filename,
		"mime_type":     record.MimeType,
		"size":          strconv.FormatInt(record.Size, 10),
		"width":         strconv.Itoa(record.Width),
		"height":        strconv.Itoa(record.Height),
		"date_added":    strconv.FormatInt(record.DateAdded.UnixMilli(), 10),
		"date_modified": strconv.FormatInt(record.DateModified.UnixMilli(), 10),
		"confidence":    strconv.FormatFloat(record.Confidence, 'f', -1, 64),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("writing %s field: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return strings.NewReader(body.String()), writer.FormDataContentType(), nil
}
