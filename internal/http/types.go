package http

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status string       `json:"status"` // "ok" or "degraded"
	Ready  bool         `json:"ready"`
	Index  *IndexStatus `json:"index,omitempty"`
	// Hint carries the command that creates a missing index.
	Hint string `json:"hint,omitempty"`
}

// IndexStatus summarises the vector index. Namespaces is -1 when the
// backend cannot list them.
type IndexStatus struct {
	Dimension  int   `json:"dimension"`
	TotalCount int64 `json:"total_count"`
	Namespaces int   `json:"namespaces"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string         `json:"content"`
	FindingsCount int            `json:"findings_count"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}
