package models

import "encoding/json"

// SignRequest is the payload for POST /sign
type SignRequest struct {
	URI string `json:"uri"`
	// Data is kept raw so key order reaches the page exactly as sent
	Data       json.RawMessage `json:"data,omitempty"`
	A1         string          `json:"a1"`
	WebSession string          `json:"web_session"`
	WebID      string          `json:"web_id,omitempty"`
}

// SignResponse carries the signature headers the caller attaches to its
// API request
type SignResponse struct {
	XS string `json:"x-s"`
	XT string `json:"x-t"`
}

// ErrorResponse is returned for any failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Success   bool   `json:"success"`
	Hint      string `json:"hint,omitempty"`
}
