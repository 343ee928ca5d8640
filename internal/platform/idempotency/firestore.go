package idempotency

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	keysCollection      = "idempotency_keys"
	defaultCleanupLimit = 100
)

// FirestoreStore persists idempotency records in a Firestore collection so
// every replica observes the same claims.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps the shared Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type keyDoc struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Done           bool                `firestore:"done"`
	ResponseCode   int                 `firestore:"responseCode,omitempty"`
	ResponseHeader map[string][]string `firestore:"responseHeader,omitempty"`
	ResponseBody   []byte              `firestore:"responseBody,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ExpiresAt      time.Time           `firestore:"expiresAt"`
}

func (d keyDoc) record() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Response: StoredResponse{
			Code:   d.ResponseCode,
			Header: d.ResponseHeader,
			Body:   d.ResponseBody,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

func freshDoc(key, fingerprint string, now time.Time, ttl time.Duration) keyDoc {
	return keyDoc{
		Key:         key,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
}

// Reserve claims the key inside a transaction so concurrent duplicates agree
// on a single winner.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	ref := s.client.Collection(keysCollection).Doc(docID(key))

	var claim Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			doc := freshDoc(key, fingerprint, now, ttl)
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			claim = Claim{Outcome: OutcomeProceed, Record: doc.record()}
			return nil
		}
		if err != nil {
			return err
		}

		var doc keyDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("idempotency: decode key document: %w", err)
		}

		if doc.record().expired(now) {
			replacement := freshDoc(key, fingerprint, now, ttl)
			if err := tx.Set(ref, replacement); err != nil {
				return err
			}
			claim = Claim{Outcome: OutcomeProceed, Record: replacement.record()}
			return nil
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if doc.Done {
			claim = Claim{Outcome: OutcomeReplay, Record: doc.record()}
			return nil
		}
		claim = Claim{Outcome: OutcomeInFlight, Record: doc.record()}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}
	return claim, nil
}

// SaveResponse marks the claim done and stores the response for replay. The
// original CreatedAt survives so retention is measured from the first claim.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.client.Collection(keysCollection).Doc(docID(key))

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := keyDoc{
			Key:            key,
			Fingerprint:    fingerprint,
			Done:           true,
			ResponseCode:   resp.Code,
			ResponseHeader: retainedHeader(resp.Header),
			ResponseBody:   resp.Body,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(normalizeTTL(ttl)),
		}

		snap, err := tx.Get(ref)
		if err == nil {
			var existing keyDoc
			if decodeErr := snap.DataTo(&existing); decodeErr == nil {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				if !existing.CreatedAt.IsZero() {
					doc.CreatedAt = existing.CreatedAt
				}
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		return tx.Set(ref, doc)
	})
}

// Release drops the claim so the client may retry after a server failure.
func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	_, err := s.client.Collection(keysCollection).Doc(docID(key)).Delete(ctx)
	return err
}

// CleanupExpired deletes up to limit records whose retention has lapsed.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}

	iter := s.client.Collection(keysCollection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return removed, err
		}
		removed++
	}
}
