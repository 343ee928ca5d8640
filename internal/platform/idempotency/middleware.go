package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/httpx"
	"github.com/maplecart/api/internal/platform/observability"

	"go.uber.org/zap"
)

// DefaultHeader is the request header carrying the client-chosen idempotency key.
const DefaultHeader = "Idempotency-Key"

// replayHeader marks responses served from a stored record.
const replayHeader = "X-Idempotent-Replay"

const maxFingerprintBody = 1 << 20 // 1 MiB

// MiddlewareOptions configures the idempotency middleware.
type MiddlewareOptions struct {
	// Header naming the idempotency key. Defaults to DefaultHeader.
	Header string
	// Methods guarded by the middleware. Defaults to POST only.
	Methods []string
	// TTL applied to stored records. Defaults to DefaultTTL.
	TTL time.Duration
	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Middleware enforces idempotent request handling for mutating endpoints.
// A request reusing a key with the same fingerprint replays the stored
// response; a key still being processed yields a conflict.
func Middleware(store Store, opts MiddlewareOptions) func(http.Handler) http.Handler {
	header := opts.Header
	if header == "" {
		header = DefaultHeader
	}
	methods := map[string]bool{}
	if len(opts.Methods) == 0 {
		methods[http.MethodPost] = true
	} else {
		for _, m := range opts.Methods {
			methods[m] = true
		}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !methods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := r.Header.Get(header)
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", header+" header is required", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
				return
			}
			if len(body) > maxFingerprintBody {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r, body)
			now := clock()

			claim, err := store.Reserve(ctx, key, fingerprint, now, ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used with a different request", http.StatusUnprocessableEntity))
					return
				}
				observability.FromContext(ctx).Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("internal", "failed to process request", http.StatusInternalServerError))
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				writeReplay(w, claim.Record)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("request_in_flight", "a request with this idempotency key is still being processed", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			resp := StoredResponse{
				Code:   recorder.status,
				Header: recorder.Header().Clone(),
				Body:   recorder.body.Bytes(),
			}

			if resp.Code >= http.StatusInternalServerError {
				// Server failures are retryable, so free the key.
				if err := store.Release(ctx, key, fingerprint); err != nil {
					observability.FromContext(ctx).Warn("idempotency release failed", zap.Error(err))
				}
				return
			}
			if err := store.SaveResponse(ctx, key, fingerprint, resp, clock(), ttl); err != nil {
				observability.FromContext(ctx).Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{'\n'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{'\n'})
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		h.Write([]byte(identity.UID))
	}
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func writeReplay(w http.ResponseWriter, record Record) {
	for name, values := range record.Response.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeader, "true")
	code := record.Response.Code
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(record.Response.Body) > 0 {
		_, _ = w.Write(record.Response.Body)
	}
}

// responseRecorder mirrors the downstream response while capturing it for storage.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
