package models

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status       string `json:"status"`
	BrowserReady bool   `json:"browser_ready"`
	A1           string `json:"a1"`
	Timestamp    int64  `json:"timestamp"`
	State        string `json:"state"`
	LastError    string `json:"last_error,omitempty"`
	Uptime       string `json:"uptime"`
}

// A1Response is returned by GET /a1
type A1Response struct {
	A1 string `json:"a1"`
}

// WebA1Response is returned by GET /web_a1
type WebA1Response struct {
	WebA1 string `json:"web_a1"`
}

// Endpoint describes one route in the service index
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// ServiceInfo is returned by GET /
type ServiceInfo struct {
	Service     string              `json:"service"`
	Description string              `json:"description"`
	Status      string              `json:"status"`
	Version     string              `json:"version"`
	Endpoints   map[string]Endpoint `json:"endpoints"`
}

// NotFoundResponse is returned for unknown routes
type NotFoundResponse struct {
	Error              string   `json:"error"`
	AvailableEndpoints []string `json:"available_endpoints"`
}
