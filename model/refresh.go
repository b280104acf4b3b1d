package model

import "time"

// RefreshRequest asks the background worker to rewarm cached content.
// An empty Categories list means every route.
type RefreshRequest struct {
	RequestID   string    `json:"requestId"`
	Categories  []string  `json:"categories,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

type RefreshResult struct {
	RequestID  string                  `json:"requestId"`
	Results    map[string]RefreshCount `json:"results"`
	Success    bool                    `json:"success"`
	FinishedAt time.Time               `json:"finishedAt"`
}

type RefreshCount struct {
	Items int    `json:"items"`
	Error string `json:"error,omitempty"`
}
