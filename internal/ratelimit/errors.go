package ratelimit

import "fmt"

// RateLimitError reports a rejected admission. It is the only condition in
// the pipeline that propagates as a hard failure: the caller must wait
// WaitMs and retry rather than absorb it.
type RateLimitError struct {
	Source       string `json:"source"`
	RequestType  string `json:"requestType"`
	Window       string `json:"window"` // which budget rejected, e.g. "source:1m" or "burst"
	Limit        int    `json:"limit"`
	CurrentCount int    `json:"currentCount"`
	WaitMs       int64  `json:"waitMs"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s/%s over %s budget (%d/%d), retry in %dms",
		e.Source, e.RequestType, e.Window, e.CurrentCount, e.Limit, e.WaitMs)
}
