package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Intended for tests and
// single-instance local runs; replicas cannot see each other's claims.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Record
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	existing, ok := s.byID[id]
	if ok && !existing.expired(now) {
		if existing.Fingerprint != fingerprint {
			return Claim{}, ErrFingerprintMismatch
		}
		if existing.Done {
			return Claim{Outcome: OutcomeReplay, Record: existing}, nil
		}
		return Claim{Outcome: OutcomeInFlight, Record: existing}, nil
	}

	fresh := Record{
		Key:         key,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
	s.byID[id] = fresh
	return Claim{Outcome: OutcomeProceed, Record: fresh}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	record, ok := s.byID[id]
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}

	record.Done = true
	record.Response = StoredResponse{
		Code:   resp.Code,
		Header: retainedHeader(resp.Header),
		Body:   append([]byte(nil), resp.Body...),
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(normalizeTTL(ttl))
	s.byID[id] = record
	return nil
}

// Release drops the claim so the client may retry.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, docID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.byID {
		if limit > 0 && removed >= limit {
			break
		}
		if !record.expired(now) {
			continue
		}
		delete(s.byID, id)
		removed++
	}
	return removed, nil
}
