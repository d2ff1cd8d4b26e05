package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
)

const collectionName = "idempotencyKeys"

// FirestoreStore persists reservations in Firestore. Expired documents are removed by a TTL policy
// on expiresAt.
type FirestoreStore struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[firestoreRecord]
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.Response.Status,
		ResponseHeaders: r.Response.Headers,
		ResponseBody:    r.Response.Body,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) record() Record {
	return Record{
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Status:      Status(r.Status),
		Response:    Response{Status: r.ResponseStatus, Headers: r.ResponseHeaders, Body: r.ResponseBody},
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{
		provider: provider,
		records:  pfirestore.NewCollection[firestoreRecord](provider, collectionName, nil),
	}, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	id := documentID(key)
	var (
		outcome Outcome
		result  Record
	)
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := s.records.TxGet(ctx, tx, id)
		if err != nil {
			return err
		}
		if found {
			existing := doc.Data.record()
			if !existing.expired(now) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				result = existing
				outcome = OutcomeInFlight
				if existing.Status == StatusCompleted {
					outcome = OutcomeReplay
				}
				return nil
			}
		}
		ref, err := s.records.Ref(ctx, id)
		if err != nil {
			return err
		}
		result = newPending(key, fingerprint, now, ttl)
		outcome = OutcomeReserved
		return tx.Set(ref, toFirestoreRecord(result))
	})
	if err != nil {
		return 0, Record{}, err
	}
	return outcome, result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := documentID(key)
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, found, err := s.records.TxGet(ctx, tx, id)
		if err != nil {
			return err
		}
		record := newPending(key, fingerprint, now, ttl)
		if found {
			if doc.Data.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = doc.Data.CreatedAt
		}
		record.Status = StatusCompleted
		record.Response = resp
		ref, err := s.records.Ref(ctx, id)
		if err != nil {
			return err
		}
		return tx.Set(ref, toFirestoreRecord(record))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.records.Delete(ctx, documentID(key))
}
