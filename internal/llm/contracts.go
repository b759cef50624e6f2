package llm

import "context"

// Request is one prompt over zero or more page images.
type Request struct {
	Op        string   // operation name, used for logs and metrics
	Prompt    string   // fixed instructions plus any hints
	Images    []string // local image paths
	MaxTokens int
	// JSONObject asks the provider to constrain output to a single JSON object.
	JSONObject bool
}

// Vision is the vision-language model behind every classifier call.
type Vision interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Decision answers whether a supporting page stays with the current recap row.
type Decision struct {
	Stay       bool    `json:"stay"`
	Confidence float64 `json:"confidence"`
}

// RekapVerdict answers whether a page is part of the recap table.
type RekapVerdict struct {
	IsRekap    bool    `json:"is_rekap"`
	Confidence float64 `json:"confidence"`
}

// CornerMarker is the model's reading of a cropped marker region.
// Tag is "ALPHA", "BETA" or nil; X is the ALPHA page count when printed.
type CornerMarker struct {
	Tag *string `json:"tag"`
	X   *int    `json:"x"`
}
