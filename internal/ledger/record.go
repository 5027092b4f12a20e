package ledger

import "time"

// Record tracks one device image through the scan, detect and upload phases.
type Record struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	DateAdded    time.Time `json:"date_added"`
	DateModified time.Time `json:"date_modified"`

	// Detection state. Processed=false means IsDocument and Confidence
	// carry their zero values and are not yet meaningful.
	Processed  bool    `json:"processed"`
	IsDocument bool    `json:"is_document"`
	Confidence float64 `json:"confidence"`

	// Delivery state. Sent=true is terminal; no further upload attempts.
	Sent        bool       `json:"sent"`
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}
