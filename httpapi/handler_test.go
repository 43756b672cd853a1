package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/measureconv/history"
	"github.com/ggoodman/measureconv/history/memoryhistory"
	"github.com/ggoodman/measureconv/httpapi"
	"github.com/ggoodman/measureconv/measureservice"
	"github.com/ggoodman/measureconv/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newHandler(t *testing.T, svc *measureservice.Service, opts ...httpapi.Option) *httpapi.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := httpapi.New(svc, append([]httpapi.Option{httpapi.WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/convert-measurements", strings.NewReader(body), map[string]string{"Content-Type": "application/json"})
}

func TestGetConvert(t *testing.T) {
	h := newHandler(t, measureservice.New())

	tests := []struct {
		query string
		want  httpapi.ConvertResponse
	}{
		{"abbcc", httpapi.ConvertResponse{Input: "abbcc", Result: []int{2, 6}}},
		{"dz_a_aazzaaa", httpapi.ConvertResponse{Input: "dz_a_aazzaaa", Result: []int{28, 53, 1}}},
		{"", httpapi.ConvertResponse{Input: "", Result: []int{}}},
		{"a%20z", httpapi.ConvertResponse{Input: "a z", Result: []int{0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/convert-measurements?input_str="+tt.query, nil, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			got := decode[httpapi.ConvertResponse](t, rec)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetConvertMissingInput(t *testing.T) {
	h := newHandler(t, measureservice.New())

	rec := do(t, h, http.MethodGet, "/convert-measurements", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	require.Equal(t, http.StatusBadRequest, body.Error.Code)
	require.Contains(t, body.Error.Message, "input_str")
}

func TestPostConvert(t *testing.T) {
	h := newHandler(t, measureservice.New(), httpapi.WithMaxBodyBytes(64))

	t.Run("ok", func(t *testing.T) {
		rec := postJSON(t, h, `{"input_str":"abbcc"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[httpapi.ConvertResponse](t, rec)
		require.Equal(t, []int{2, 6}, got.Result)
	})

	t.Run("charset parameter accepted", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/convert-measurements", strings.NewReader(`{"input_str":"aa"}`),
			map[string]string{"Content-Type": "application/json; charset=utf-8"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("missing field", func(t *testing.T) {
		rec := postJSON(t, h, `{}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := postJSON(t, h, `{"input_str":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("trailing data", func(t *testing.T) {
		rec := postJSON(t, h, `{"input_str":"a"} {"input_str":"b"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/convert-measurements", strings.NewReader(`{"input_str":"a"}`),
			map[string]string{"Content-Type": "text/plain"})
		require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		rec := postJSON(t, h, `{"input_str":"`+strings.Repeat("a", 128)+`"}`)
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(t, measureservice.New())
	rec := do(t, h, http.MethodDelete, "/convert-measurements", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	svc := measureservice.New(measureservice.WithHistory(memoryhistory.New()))
	h := newHandler(t, svc, httpapi.WithPageSize(2, 10))

	inputs := []string{"abbcc", "aa", "dz_a_aazzaaa"}
	for _, in := range inputs {
		rec := postJSON(t, h, `{"input_str":"`+in+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[history.Page[history.Record]](t, rec)
	require.Len(t, first.Items, 2)
	require.Equal(t, "abbcc", first.Items[0].Input)
	require.Equal(t, []int{2, 6}, first.Items[0].Result)
	require.Equal(t, "aa", first.Items[1].Input)
	require.NotNil(t, first.NextCursor)

	rec = do(t, h, http.MethodGet, "/history?after="+*first.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[history.Page[history.Record]](t, rec)
	require.Len(t, second.Items, 1)
	require.Equal(t, "dz_a_aazzaaa", second.Items[0].Input)
	require.Equal(t, []int{28, 53, 1}, second.Items[0].Result)
	require.Nil(t, second.NextCursor)

	rec = do(t, h, http.MethodGet, "/history?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[history.Page[history.Record]](t, rec)
	require.Len(t, all.Items, 3)
}

func TestHistoryBadRequests(t *testing.T) {
	svc := measureservice.New(measureservice.WithHistory(memoryhistory.New()))
	h := newHandler(t, svc, httpapi.WithPageSize(2, 10))

	for _, target := range []string{"/history?limit=0", "/history?limit=11", "/history?limit=x", "/history?after=nope"} {
		rec := do(t, h, http.MethodGet, target, nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := newHandler(t, measureservice.New())
	rec := do(t, h, http.MethodGet, "/history", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type brokenStore struct{ history.Store }

func (brokenStore) Append(context.Context, history.Record) (history.Record, error) {
	return history.Record{}, errors.New("boom")
}

func (brokenStore) List(context.Context, ...history.ListOption) (history.Page[history.Record], error) {
	return history.Page[history.Record]{}, errors.New("boom")
}

func (brokenStore) Ping(context.Context) error { return errors.New("boom") }

func TestStoreFailures(t *testing.T) {
	h := newHandler(t, measureservice.New(measureservice.WithHistory(brokenStore{})))

	rec := do(t, h, http.MethodGet, "/convert-measurements?input_str=abc", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/history", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newHandler(t, measureservice.New(measureservice.WithHistory(memoryhistory.New())))
	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSchema(t *testing.T) {
	h := newHandler(t, measureservice.New())
	rec := do(t, h, http.MethodGet, "/schema", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	for _, name := range []string{"convert_request", "convert_response", "history_record"} {
		require.Contains(t, doc, name)
		require.Contains(t, doc[name], "properties")
	}
}

func TestRequestID(t *testing.T) {
	h := newHandler(t, measureservice.New())

	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, h, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-Id": "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h, err := httpapi.New(measureservice.New(), httpapi.WithLogger(log))
	require.NoError(t, err)

	do(t, h, http.MethodGet, "/convert-measurements?input_str=ab", nil, map[string]string{"X-Request-Id": "rid-1"})
	require.Contains(t, buf.String(), `"id":"rid-1"`)
	require.Contains(t, buf.String(), `"source":"query"`)
}

func TestRateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	h := newHandler(t, measureservice.New(), httpapi.WithRateLimit(0.001, 2), httpapi.WithMetrics(m, reg))

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/convert-measurements?input_str=a", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/convert-measurements?input_str=a", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health checks bypass the limiter.
	rec = do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/convert-measurements?input_str=a", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	require.Equal(t, http.StatusOK, other.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "measureconv_rate_limited_total 1")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	h := newHandler(t, measureservice.New(measureservice.WithMetrics(m)), httpapi.WithMetrics(m, reg))

	do(t, h, http.MethodGet, "/convert-measurements?input_str=abbcc", nil, nil)
	do(t, h, http.MethodGet, "/convert-measurements", nil, nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `measureconv_http_requests_total{code="2xx",route="/convert-measurements"} 1`)
	require.Contains(t, body, `measureconv_http_requests_total{code="4xx",route="/convert-measurements"} 1`)
	require.Contains(t, body, "measureconv_conversions_total 1")
}

func TestGzip(t *testing.T) {
	h := newHandler(t, measureservice.New())
	in := strings.Repeat("abbcc", 400)
	rec := do(t, h, http.MethodGet, "/convert-measurements?input_str="+in, nil, map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestNewRequiresService(t *testing.T) {
	_, err := httpapi.New(nil)
	require.Error(t, err)
}
