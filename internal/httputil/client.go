// Package httputil holds shared HTTP client construction.
package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and pooled
// transport. Webhook delivery hits the same merchant hosts repeatedly, so
// idle connection reuse matters more than in a generic client.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
