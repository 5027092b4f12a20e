package recognize

// Result contains the text extracted from an image
type Result struct {
	Text       string `json:"text"`
	Regions    int    `json:"regions"`
	Characters int    `json:"characters"`
}

// Recognizer defines the interface for text recognition operations
type Recognizer interface {
	// RecognizeText extracts text, region and character counts from a PNG image
	RecognizeText(pngData []byte) (*Result, error)
	// Close closes the recognizer and releases resources
	Close() error
}
