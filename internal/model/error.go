package model

// AppError is the error payload shared by every pipeline stage.
//
// Stage names the step that failed (fetch_sub, parse_sub, probe, write, ...);
// Code is a stable identifier, Message is meant for humans.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // <= 200 chars
	Hint    string `json:"hint,omitempty"`
}
