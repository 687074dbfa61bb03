package models

import "strings"

// Request is an input unit for moderation.
type Request struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Empty reports whether the text is blank after trimming.
func (r Request) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Image is an uploaded image payload to be scanned for text.
type Image struct {
	Data     []byte
	MIMEType string
	Name     string
}

// ExtractedText is the OCR result for one image.
type ExtractedText struct {
	Text string `json:"text"`
	// Confidence is 0..100, nil when the engine cannot report one.
	Confidence *float64 `json:"confidence,omitempty"`
}

// Confidence returns a pointer suitable for ExtractedText.Confidence.
func Confidence(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
