package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/measureconv/history"
	"github.com/ggoodman/measureconv/internal/logctx"
	"github.com/ggoodman/measureconv/internal/ratelimit"
	"github.com/ggoodman/measureconv/measureservice"
	"github.com/ggoodman/measureconv/metrics"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	convertPath = "/convert-measurements"
	historyPath = "/history"
	schemaPath  = "/schema"
	healthPath  = "/healthz"
	metricsPath = "/metrics"

	inputParam = "input_str"
	limitParam = "limit"
	afterParam = "after"

	requestIDHeader  = "X-Request-Id"
	retryAfterHeader = "Retry-After"

	maxRequestIDLen = 128
)

// ConvertRequest is the POST body of /convert-measurements.
type ConvertRequest struct {
	Input *string `json:"input_str" jsonschema:"description=String to encode"`
}

// ConvertResponse is returned by both forms of /convert-measurements.
type ConvertResponse struct {
	Input  string `json:"input_str" jsonschema:"description=String that was encoded"`
	Result []int  `json:"result" jsonschema:"description=One sum per parsed segment in input order"`
}

// writeJSONError emits a minimal JSON body for rejected requests.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger          *slog.Logger
	rps             float64
	burst           int
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	maxBodyBytes    int64
	defaultPageSize int
	maxPageSize     int
}

// WithLogger sets the logger used by the handler. If not provided, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRateLimit enables per-client token bucket limiting keyed by remote IP.
// Non-positive values disable limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *newConfig) { c.rps = rps; c.burst = burst }
}

// WithMetrics records request metrics in m and, if g is non-nil, serves g
// at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(c *newConfig) { c.metrics = m; c.gatherer = g }
}

// WithMaxBodyBytes caps POST bodies. Default 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) { c.maxBodyBytes = n }
}

// WithPageSize sets the default and maximum /history page sizes.
func WithPageSize(def, max int) Option {
	return func(c *newConfig) { c.defaultPageSize = def; c.maxPageSize = max }
}

// Handler serves the conversion API over HTTP.
type Handler struct {
	root    http.Handler
	log     *slog.Logger
	svc     *measureservice.Service
	limiter *ratelimit.MapLimiter
	metrics *metrics.Metrics
	schemas []byte

	maxBodyBytes    int64
	defaultPageSize int
	maxPageSize     int
}

// New constructs a Handler around svc.
//
// Routes:
//   - GET  /convert-measurements?input_str=...
//   - POST /convert-measurements  {"input_str": "..."}
//   - GET  /history?limit=&after=
//   - GET  /schema
//   - GET  /healthz
//   - GET  /metrics (only with WithMetrics and a non-nil gatherer)
func New(svc *measureservice.Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}

	cfg := &newConfig{
		logger:          slog.Default(),
		maxBodyBytes:    1 << 20,
		defaultPageSize: 100,
		maxPageSize:     1000,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxBodyBytes <= 0 {
		return nil, fmt.Errorf("max body bytes must be positive, got %d", cfg.maxBodyBytes)
	}
	if cfg.defaultPageSize <= 0 || cfg.maxPageSize < cfg.defaultPageSize {
		return nil, fmt.Errorf("invalid page sizes: default %d, max %d", cfg.defaultPageSize, cfg.maxPageSize)
	}

	schemas, err := buildSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to build schemas: %w", err)
	}

	h := &Handler{
		log:             logctx.Wrap(cfg.logger),
		svc:             svc,
		limiter:         ratelimit.New(cfg.rps, cfg.burst, 10*time.Minute),
		metrics:         cfg.metrics,
		schemas:         schemas,
		maxBodyBytes:    cfg.maxBodyBytes,
		defaultPageSize: cfg.defaultPageSize,
		maxPageSize:     cfg.maxPageSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+convertPath, h.instrument(convertPath, h.handleGetConvert))
	mux.HandleFunc("POST "+convertPath, h.instrument(convertPath, h.handlePostConvert))
	mux.HandleFunc("GET "+historyPath, h.instrument(historyPath, h.handleGetHistory))
	mux.HandleFunc("GET "+schemaPath, h.instrument(schemaPath, h.handleGetSchema))
	mux.HandleFunc("GET "+healthPath, h.instrument(healthPath, h.handleGetHealth))
	if cfg.gatherer != nil {
		mux.Handle("GET "+metricsPath, promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}

	h.root = gzhttp.GzipHandler(mux)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if reqID == "" || len(reqID) > maxRequestIDLen {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	if r.URL.Path != healthPath && r.URL.Path != metricsPath {
		if ok, wait := h.limiter.Allow(clientKey(r), time.Now()); !ok {
			h.metrics.RateLimited()
			w.Header().Set(retryAfterHeader, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			h.log.WarnContext(ctx, "http.rate_limited", slog.Duration("retry_after", wait))
			return
		}
	}

	h.root.ServeHTTP(w, r.WithContext(ctx))
}

// clientKey returns the host part of the remote address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleGetConvert handles GET /convert-measurements. The input is read from
// the input_str query parameter; an empty value is valid input.
func (h *Handler) handleGetConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has(inputParam) {
		writeJSONError(w, http.StatusBadRequest, "missing input_str query parameter")
		h.log.InfoContext(r.Context(), "http.convert.missing_input")
		return
	}
	h.convert(w, r, q.Get(inputParam), "query")
}

// handlePostConvert handles POST /convert-measurements with a JSON body.
func (h *Handler) handlePostConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var req ConvertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			h.log.WarnContext(ctx, "json.body.too_large", slog.Int64("limit", tooLarge.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if dec.More() {
		writeJSONError(w, http.StatusBadRequest, "unexpected data after JSON body")
		h.log.WarnContext(ctx, "json.decode.trailing")
		return
	}
	if req.Input == nil {
		writeJSONError(w, http.StatusBadRequest, "input_str is required")
		h.log.InfoContext(ctx, "http.convert.missing_input")
		return
	}

	h.convert(w, r, *req.Input, "body")
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request, input, source string) {
	start := time.Now()
	ctx := logctx.WithConversionData(r.Context(), &logctx.ConversionData{
		InputLength: utf8.RuneCountInString(input),
		Source:      source,
	})
	h.log.InfoContext(ctx, "http.convert.start")

	conv, err := h.svc.Convert(ctx, input)
	if err != nil {
		if errors.Is(err, measureservice.ErrHistoryUnavailable) {
			writeJSONError(w, http.StatusServiceUnavailable, "failed to record history")
		} else {
			writeJSONError(w, http.StatusInternalServerError, "conversion failed")
		}
		h.log.ErrorContext(ctx, "http.convert.fail", slog.String("err", err.Error()))
		return
	}

	if err := writeJSON(w, http.StatusOK, ConvertResponse{Input: conv.Input, Result: conv.Result}); err != nil {
		h.log.ErrorContext(ctx, "http.convert.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.convert.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetHistory handles GET /history, returning one page of records in
// arrival order.
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := h.defaultPageSize
	if raw := q.Get(limitParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > h.maxPageSize {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", h.maxPageSize))
			h.log.InfoContext(ctx, "http.history.limit.invalid", slog.String("limit", raw))
			return
		}
		limit = n
	}

	page, err := h.svc.History(ctx, limit, q.Get(afterParam))
	if err != nil {
		switch {
		case errors.Is(err, measureservice.ErrHistoryDisabled):
			writeJSONError(w, http.StatusNotFound, "history is disabled")
		case errors.Is(err, history.ErrInvalidCursor):
			writeJSONError(w, http.StatusBadRequest, "invalid after cursor")
		case errors.Is(err, measureservice.ErrHistoryUnavailable):
			writeJSONError(w, http.StatusServiceUnavailable, "history store unavailable")
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to list history")
		}
		h.log.InfoContext(ctx, "http.history.fail", slog.String("err", err.Error()))
		return
	}

	if err := writeJSON(w, http.StatusOK, page); err != nil {
		h.log.ErrorContext(ctx, "http.history.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.schemas)
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Ping(ctx); err != nil {
		h.log.WarnContext(ctx, "health.fail", slog.String("err", err.Error()))
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// buildSchemas reflects the public wire types into a single JSON document.
func buildSchemas() ([]byte, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	doc := map[string]*jsonschema.Schema{
		"convert_request":  r.Reflect(new(ConvertRequest)),
		"convert_response": r.Reflect(new(ConvertResponse)),
		"history_record":   r.Reflect(new(history.Record)),
	}
	return json.Marshal(doc)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (h *Handler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		h.metrics.ObserveRequest(route, rec.status)
	}
}
