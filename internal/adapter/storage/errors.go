package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
)

// classify maps driver errors onto the domain's store error taxonomy.
func classify(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 40 covers serialization failures and deadlocks.
		if strings.HasPrefix(pgErr.Code, "40") || pgErr.Code == codeLockNotAvailable {
			return fmt.Errorf("%w: %s", domain.ErrStoreConflict, pgErr.Message)
		}
		return fmt.Errorf("database error %s: %w", pgErr.Code, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
