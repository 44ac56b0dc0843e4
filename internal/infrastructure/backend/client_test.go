package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snaphub-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", 5*time.Second, 2)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestListBookings_DecodesEnvelopeAndSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings/user/u1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"bookings":[{"bookingID":42,"status":"Pending","date":"2025-03-01","category":"Portrait","Package_type":"Basic"}]}`))
	})

	bookings, err := c.ListBookings(context.Background(), "tok", "u1")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, domain.FlexID("42"), bookings[0].BookingID)
	assert.Equal(t, "Basic", bookings[0].PackageType)
}

func TestListApplications_DecodesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/student-id/user/u1", r.URL.Path)
		_, _ = w.Write([]byte(`{"applications":[{"id":"7","status":"Approved","grade":"11","section":"A","submitted_at":"2025-02-02"}]}`))
	})

	apps, err := c.ListApplications(context.Background(), "tok", "u1")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Approved", apps[0].Status)
}

func TestListBookings_MissingArrayIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"no bookings"}`))
	})
	bookings, err := c.ListBookings(context.Background(), "tok", "u1")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestList_UnauthorizedMapsToDomainError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	})
	_, err := c.ListApplications(context.Background(), "tok", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "token expired")
}

func TestList_ServerErrorReturnsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.ListBookings(context.Background(), "tok", "u1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDo_RetriesOn429(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"bookings":[]}`))
	})
	_, err := c.ListBookings(context.Background(), "tok", "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.ListBookings(context.Background(), "tok", "u1")
	assert.ErrorContains(t, err, "max retries")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDeleteRecord_RoutesByKind(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.DeleteRecord(context.Background(), "tok", domain.KindBooking, "42"))
	require.NoError(t, c.DeleteRecord(context.Background(), "tok", domain.KindStudent, "7"))
	assert.Equal(t, []string{"/api/bookings/42", "/api/student-id/7"}, paths)
}

func TestDeleteRecord_NotFoundIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.DeleteRecord(context.Background(), "tok", domain.KindBooking, "42"))
}

func TestDeleteRecord_FailurePropagates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	err := c.DeleteRecord(context.Background(), "tok", domain.KindStudent, "7")
	assert.ErrorContains(t, err, "409")
}

func TestRetryAfter_Backoff(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Second, retryAfter(resp, 0))
	assert.Equal(t, 4*time.Second, retryAfter(resp, 2))
	assert.Equal(t, 30*time.Second, retryAfter(resp, 10))
	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(resp, 0))
}

func TestRetryAfter_HeaderIsCapped(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3600")
	assert.Equal(t, maxRetryWait, retryAfter(resp, 0))

	resp.Header.Set("Retry-After", "-5")
	assert.Equal(t, time.Second, retryAfter(resp, 0))
}
