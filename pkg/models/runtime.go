package models

// RuntimeInfo describes the backend runtime settings that clients may need.
// It is intentionally small and stable.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	EventsPath  string `json:"events_path"`
	Port        int    `json:"port"`
}
