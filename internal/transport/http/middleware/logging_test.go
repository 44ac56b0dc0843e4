package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/snaphub-notify/internal/pkg/metrics"
)

func TestRequestLogger_LogsRoutePatternAndStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/notifications/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/notifications/booking-1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/notifications/{id}", fields["route"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestRequestLogger_UnmatchedPathsShareOneSeries(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/known", func(w http.ResponseWriter, _ *http.Request) {})

	// Warm the unmatched series so the count below measures only growth.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/warmup", nil))
	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scan-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scan-2", nil))

	assert.Equal(t, before, testutil.CollectAndCount(metrics.HTTPRequestDuration))
	entries := logs.All()
	require.Len(t, entries, 3)
	fields := entries[2].ContextMap()
	assert.Equal(t, unmatchedRoute, fields["route"])
	assert.Equal(t, "/scan-2", fields["path"])
}
