// ABOUTME: Tests for outbound webhook delivery: HMAC signing, non-2xx errors, header denylist, redirect rejection.
package jobhandlers_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/poolmaster/internal/jobhandlers"
	"github.com/scarson/poolmaster/internal/jobrunner"
)

func buildTestClient() *http.Client {
	// In tests use a plain http.Client (safeurl blocks private IPs used by httptest).
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func testJob(attempt int32) jobrunner.JobContext {
	return jobrunner.JobContext{JobID: uuid.New(), Queue: "webhook", Attempt: attempt}
}

func TestSend_HMACHeadersCorrect(t *testing.T) {
	var gotTS, gotSig, gotDeliveryID, gotAttempt string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTS = r.Header.Get("X-Poolmaster-Timestamp")
		gotSig = r.Header.Get("X-Poolmaster-Signature")
		gotDeliveryID = r.Header.Get("X-Poolmaster-Delivery-Id")
		gotAttempt = r.Header.Get("X-Poolmaster-Delivery-Attempt")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := []byte(`{"queue_group":"critical,high","spawned_at":"2026-08-06T00:00:00Z"}`)
	secret := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" // 64 chars, used as-is as a 64-byte HMAC key
	job := testJob(2)

	err := jobhandlers.Send(context.Background(), buildTestClient(), jobhandlers.WebhookConfig{
		URL:           srv.URL,
		SigningSecret: secret,
	}, job, payload)
	require.NoError(t, err)

	require.NotEmpty(t, gotTS)
	tsInt, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), tsInt, 5)

	assert.Equal(t, job.JobID.String(), gotDeliveryID)
	assert.Equal(t, "2", gotAttempt)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gotTS + "." + job.JobID.String() + "." + gotAttempt + "." + string(gotBody)))
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, gotSig)
}

func TestSend_Non2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := jobhandlers.Send(context.Background(), buildTestClient(), jobhandlers.WebhookConfig{
		URL: srv.URL, SigningSecret: "x",
	}, testJob(1), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_DeniedHeaderStripped(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Header.Get("Host")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_ = jobhandlers.Send(context.Background(), buildTestClient(), jobhandlers.WebhookConfig{
		URL:           srv.URL,
		SigningSecret: "x",
		CustomHeaders: map[string]string{"Host": "evil.internal", "X-Custom": "ok"},
	}, testJob(1), []byte(`{}`))
	assert.NotEqual(t, "evil.internal", gotHost)
}

func TestSend_RedirectRejected(t *testing.T) {
	inner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer inner.Close()

	outer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, inner.URL, http.StatusFound)
	}))
	defer outer.Close()

	client := &http.Client{
		Timeout: 2 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	err := jobhandlers.Send(context.Background(), client, jobhandlers.WebhookConfig{
		URL: outer.URL, SigningSecret: "x",
	}, testJob(1), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "302")
}

func TestSend_RetryAttemptDistinguishesSignature(t *testing.T) {
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigs = append(sigs, r.Header.Get("X-Poolmaster-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id := uuid.New()
	cfg := jobhandlers.WebhookConfig{URL: srv.URL, SigningSecret: "x"}
	payload := []byte(`{}`)

	err := jobhandlers.Send(context.Background(), buildTestClient(), cfg,
		jobrunner.JobContext{JobID: id, Attempt: 1}, payload)
	require.NoError(t, err)
	err = jobhandlers.Send(context.Background(), buildTestClient(), cfg,
		jobrunner.JobContext{JobID: id, Attempt: 2}, payload)
	require.NoError(t, err)

	require.Len(t, sigs, 2)
	assert.NotEqual(t, sigs[0], sigs[1], "retrying the same job with an identical body must still change the signature")
}
