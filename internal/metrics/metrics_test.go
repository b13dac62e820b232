package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://cdn.example.com/a.jpg", "cdn.example.com"},
		{"standard https", "https://CDN.Example.com/a.jpg?x=1", "cdn.example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversUpdateCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(imagesTotal.WithLabelValues("img.test", "ok"))
	ObserveImage("https://img.test/001.jpg", "ok", 128)
	require.InDelta(t, before+1, testutil.ToFloat64(imagesTotal.WithLabelValues("img.test", "ok")), 0.001)

	ObserveChapter("toonbr", "delivered")
	require.GreaterOrEqual(t, testutil.ToFloat64(chaptersTotal.WithLabelValues("toonbr", "delivered")), 1.0)

	SetQueueDepth(4)
	require.InDelta(t, 4, testutil.ToFloat64(queueDepth), 0.001)

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	require.GreaterOrEqual(t, testutil.ToFloat64(activeWorkers), 1.0)

	ObserveDelivery("memory", "success")
	ObserveDeliveryRetry("memory", "rate_limited")
	ObserveJob("completed")
	ObserveRateLimitDelay("img.test", 20*time.Millisecond)
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveJob("failed")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chapterbox_jobs_total")
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://cdn2.toonbr.com/x.png", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
