package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key keeps blocking duplicates when the caller
// does not configure a retention period.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch reports a key reused for a different request, meaning
// a different method, path, caller or body.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// Outcome tells the middleware what to do with a guarded request.
type Outcome int

const (
	// OutcomeProceed means the key was newly claimed; run the handler.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a finished response is stored; serve it verbatim.
	OutcomeReplay
	// OutcomeInFlight means another request currently holds the key.
	OutcomeInFlight
)

// StoredResponse is the portion of an HTTP response retained for replay.
type StoredResponse struct {
	Code   int
	Header map[string][]string
	Body   []byte
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key         string
	Fingerprint string
	Done        bool
	Response    StoredResponse
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Claim is the result of reserving a key.
type Claim struct {
	Outcome Outcome
	Record  Record
}

// Store persists key claims and their replayable responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// docID hashes the client-chosen key so arbitrary input cannot produce
// awkward document names.
func docID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// hopHeaders never make sense on a replayed response.
var hopHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Date":              {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func retainedHeader(h map[string][]string) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[canonical]; skip {
			continue
		}
		kept[canonical] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
