package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-admin/fulfillment/internal/platform/httpx"
	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "X-Idempotent-Replay"
	maxKeyLength  = 255
)

// Config configures Middleware.
type Config struct {
	Header string
	TTL    time.Duration
	// Required rejects mutating requests that carry no key.
	Required bool
	Clock    func() time.Time
}

// Middleware deduplicates POST, PUT and PATCH requests carrying an idempotency key. Keys are scoped
// to the acting staff member. Server errors, conflicts and throttling responses are not stored so
// a retry with the same key runs again.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.Header))
			if key == "" {
				if cfg.Required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.Header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := requestctx.Actor(ctx) + "|" + key
			fingerprint := documentID(r.Method + "|" + r.URL.Path + "|" + r.URL.RawQuery + "|" + string(body))
			logger := requestctx.Logger(ctx).With(zap.String("idempotency_key", key))

			outcome, record, err := store.Reserve(ctx, scoped, fingerprint, cfg.Clock().UTC(), cfg.TTL)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("unavailable", "unable to process idempotency key", http.StatusServiceUnavailable).AsRetryable())
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, record.Response)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict).AsRetryable())
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if storable(rec.status()) {
				resp := Response{Status: rec.status(), Headers: replayableHeaders(rec.header), Body: rec.body.Bytes()}
				if err := store.Complete(ctx, scoped, fingerprint, resp, cfg.Clock().UTC(), cfg.TTL); err != nil {
					logger.Warn("idempotency complete failed", zap.Error(err))
				}
			} else if err := store.Release(ctx, scoped); err != nil {
				logger.Warn("idempotency release failed", zap.Error(err))
			}
			rec.flushTo(w)
		})
	}
}

func storable(status int) bool {
	switch {
	case status >= http.StatusInternalServerError:
		return false
	case status == http.StatusConflict, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return false
	}
	return true
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.code == 0 {
		b.code = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}
