// Package jobhandlers provides the two example job Handlers registered
// with the default worker kind (spec.md §11): "webhook" and "email"
// delivery.
package jobhandlers

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// BuildSafeClient returns an SSRF-safe *http.Client for webhook
// delivery. Redirect following is disabled; timeout is 10 seconds.
func BuildSafeClient() (*http.Client, error) {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(10 * time.Second).
		SetCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}).
		Build()
	return safeurl.Client(cfg).Client, nil
}
