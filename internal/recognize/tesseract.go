package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Tesseract implements the Recognizer interface against a tesseract-server
// instance (https://github.com/hertzg/tesseract-server)
type Tesseract struct {
	baseURL  string
	language string
	client   *http.Client
}

// NewTesseract creates a new Tesseract Recognizer instance
func NewTesseract(baseURL string, language string) (*Tesseract, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8884"
	}
	if language == "" {
		language = "eng"
	}

	return &Tesseract{
		baseURL:  baseURL,
		language: language,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// tesseractResponse represents the response from tesseract-server
type tesseractResponse struct {
	Data struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	} `json:"data"`
}

// RecognizeText extracts text from a PNG image
func (t *Tesseract) RecognizeText(pngData []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	options := map[string]any{
		"languages": []string{t.language},
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshaling options: %w", err)
	}
	if err := writer.WriteField("options", string(optionsJSON)); err != nil {
		return nil, fmt.Errorf("writing options field: %w", err)
	}

	filePart, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := filePart.Write(pngData); err != nil {
		return nil, fmt.Errorf("writing file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/tesseract", t.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tesseract API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tesseract API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var ocrResp tesseractResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if ocrResp.Data.ExitCode != 0 {
		return nil, fmt.Errorf("tesseract failed (exit %d): %s", ocrResp.Data.ExitCode, ocrResp.Data.Stderr)
	}

	return resultFromPlainText(ocrResp.Data.Stdout), nil
}

// Close closes the Tesseract client (no-op for HTTP client)
func (t *Tesseract) Close() error {
	return nil
}
