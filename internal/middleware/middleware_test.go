package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/assessment"
	"github.com/rpattn/assessor/internal/logging"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := logging.Component(logging.New(logging.Options{Level: "info", Format: "json", Output: &buf}), "http")

	var sawLogger bool
	handler := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.FromContext(r.Context(), nil).Data["request_id"] == "req-1"
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, sawLogger)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

type fakeSource struct{ calls int }

func (s *fakeSource) NewLoaders() *assessment.Loaders {
	s.calls++
	return &assessment.Loaders{}
}

func TestDataLoaderMiddlewareBuildsLoadersPerRequest(t *testing.T) {
	source := &fakeSource{}
	var got []*assessment.Loaders
	handler := DataLoaderMiddleware(source)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, LoadersFromContext(r.Context()))
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	require.Len(t, got, 2)
	assert.NotNil(t, got[0])
	assert.NotSame(t, got[0], got[1])
	assert.Equal(t, 2, source.calls)
	assert.Nil(t, LoadersFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
