package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// PendingTTL is how long a reservation without a response blocks its key.
// After that the key may be taken over, so a crashed request does not lock it forever.
const PendingTTL = time.Minute

// StoredResponse is the record kept for an Idempotency-Key. A zero Status
// means the first request is still running.
type StoredResponse struct {
	Fingerprint string
	Status      int
	Body        []byte
}

func (r StoredResponse) Pending() bool {
	return r.Status == 0
}

type IdempotencyRepository struct {
	db *pgxpool.Pool
}

func NewIdempotencyRepository(db *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Reserve claims key for a request with the given fingerprint. It returns nil
// when the caller now owns the key, otherwise the existing record.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key, fingerprint string) (*StoredResponse, error) {
	const reserve = `
		INSERT INTO idempotency_keys (key_id, fingerprint, response_status, response_body)
		VALUES ($1, $2, 0, ''::bytea)
		ON CONFLICT (key_id) DO UPDATE
			SET fingerprint = EXCLUDED.fingerprint, created_at = NOW()
			WHERE idempotency_keys.response_status = 0
			  AND idempotency_keys.created_at < NOW() - make_interval(secs => $3::double precision)`

	// A concurrent Release can delete the row between the insert and the read.
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.db.Exec(ctx, reserve, key, fingerprint, PendingTTL.Seconds())
		if err != nil {
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", classify(err))
		}
		if tag.RowsAffected() == 1 {
			return nil, nil
		}

		var res StoredResponse
		err = r.db.QueryRow(ctx,
			"SELECT fingerprint, response_status, response_body FROM idempotency_keys WHERE key_id = $1",
			key).Scan(&res.Fingerprint, &res.Status, &res.Body)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		return &res, nil
	}
	return nil, domain.ErrStoreConflict
}

// Complete records the response for a reserved key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, res StoredResponse) error {
	_, err := r.db.Exec(ctx,
		"UPDATE idempotency_keys SET response_status = $2, response_body = $3 WHERE key_id = $1 AND response_status = 0",
		key, res.Status, res.Body)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", classify(err))
	}
	return nil
}

// Release drops a reservation that produced no response worth replaying.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key_id = $1 AND response_status = 0", key)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", classify(err))
	}
	return nil
}
