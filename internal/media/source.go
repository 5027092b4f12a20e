// Package media enumerates candidate images from the watched photo directory.
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/webp" // Register WEBP decoder
)

// ImageInfo describes one discovered image. Immutable once returned.
type ImageInfo struct {
	ID           string
	Path         string
	Filename     string
	MimeType     string
	Size         int64
	Width        int
	Height       int
	DateAdded    time.Time
	DateModified time.Time
}

// Source defines the interface for image enumeration
type Source interface {
	// ListNewImages returns images added strictly after since, newest
	// first. It never fails: enumeration faults are logged and yield an
	// empty result for the cycle.
	ListNewImages(since time.Time) []ImageInfo
}

// mimeByExt is the supported MIME allow-list
var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// DirSource implements Source over a local directory tree
type DirSource struct {
	root string
}

// NewDirSource creates a new DirSource rooted at the given directory
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// Available reports whether the watched directory can be read
func (d *DirSource) Available() bool {
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}

// ListNewImages returns supported images modified strictly after since,
// newest first
func (d *DirSource) ListNewImages(since time.Time) []ImageInfo {
	images := make([]ImageInfo, 0)

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Skipping unreadable entry", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		mimeType, ok := mimeByExt[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			slog.Warn("Skipping entry without file info", "path", path, "error", err)
			return nil
		}
		if !info.ModTime().After(since) {
			return nil
		}

		img := ImageInfo{
			ID:           imageID(path, info.ModTime()),
			Path:         path,
			Filename:     entry.Name(),
			MimeType:     mimeType,
			Size:         info.Size(),
			DateAdded:    info.ModTime(),
			DateModified: info.ModTime(),
		}
		img.Width, img.Height = imageDimensions(path)

		images = append(images, img)
		return nil
	})
	if err != nil {
		// Treated as "no new images" for this cycle
		slog.Error("Enumerating media directory failed", "root", d.root, "error", err)
		return []ImageInfo{}
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].DateAdded.After(images[j].DateAdded)
	})
	return images
}

// imageID derives a stable identifier from the path and modification time
func imageID(path string, modTime time.Time) string {
	sum := sha256.Sum256([]byte(path + "|" + modTime.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:16])
}

// imageDimensions reads pixel dimensions from the image header only
func imageDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("Cannot open image for header decode", "path", path, "error", err)
		return 0, 0
	}
	defer f.Close()

	config, _, err := image.DecodeConfig(f)
	if err != nil {
		slog.Warn("Cannot decode image header", "path", path, "error", err)
		return 0, 0
	}
	return config.Width, config.Height
}
