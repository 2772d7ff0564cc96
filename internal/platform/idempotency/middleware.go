package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	requireKey bool
	clock      clockFunc
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.headerName = trimmed
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that omit the idempotency header instead of
// passing them through unguarded.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.requireKey = true
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware constructs an HTTP middleware enforcing idempotency semantics for
// the routes it wraps. Apply it to mutating routes only.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.requireKey {
					respondError(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			fingerprint := requestFingerprint(r, body)
			now := cfg.clock().UTC()

			reservation, err := store.Reserve(r.Context(), key, fingerprint, now, cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					respondError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
					return
				}
				cfg.logger.Error("idempotency reserve failed", zap.Error(err))
				respondError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				respondError(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			response := Response{
				Status:  recorder.Status(),
				Headers: recorder.HeaderSnapshot(),
				Body:    recorder.Body(),
			}
			if err := store.SaveResponse(r.Context(), key, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.logger.Error("idempotency save failed", zap.String("key", key), zap.Error(err))
				if releaseErr := store.Release(r.Context(), key, fingerprint); releaseErr != nil {
					cfg.logger.Error("idempotency release failed", zap.String("key", key), zap.Error(releaseErr))
				}
				respondError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}

			if err := recorder.Commit(); err != nil {
				cfg.logger.Warn("idempotency response flush failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte) string {
	var builder strings.Builder
	builder.WriteString(strings.ToUpper(r.Method))
	builder.WriteString("|")
	builder.WriteString(r.URL.Path)
	builder.WriteString("|")
	builder.WriteString(r.URL.RawQuery)
	builder.WriteString("|")
	if len(body) > 0 {
		builder.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(builder.String()))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) HeaderSnapshot() http.Header {
	snapshot := make(http.Header, len(r.header))
	for key, values := range r.header {
		copied := make([]string, len(values))
		copy(copied, values)
		snapshot[key] = copied
	}
	return snapshot
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range r.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	r.parent.WriteHeader(status)
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
