package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
)

type postgresStore struct {
	db         *sqlx.DB
	log        logger.Logger
	maxRetries int
}

func NewPostgresStore(db *sqlx.DB, log logger.Logger, maxRetries int) repository.Store {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &postgresStore{
		db:         db,
		log:        log,
		maxRetries: maxRetries,
	}
}

func (s *postgresStore) Repos() repository.Repositories {
	return bind(s.db, s.log)
}

func bind(q sqlx.ExtContext, log logger.Logger) repository.Repositories {
	return repository.Repositories{
		Wallets:    &postgresWalletRepo{db: q, log: log},
		Entries:    &postgresEntryRepo{db: q, log: log},
		Categories: &postgresCategoryRepo{db: q},
		Audit:      &postgresAuditRepo{db: q},
	}
}

// WithinTx runs fn in a serializable transaction, retrying when postgres
// aborts it with a serialization failure or a deadlock.
func (s *postgresStore) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.executeTx(ctx, fn)
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return err
		}

		lastErr = err
		s.log.Warn("Retrying serializable transaction",
			logger.IntField("attempt", attempt),
			logger.ErrorField("error", err))

		sleep := time.Duration(attempt*attempt) * 20 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}

	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *postgresStore) executeTx(ctx context.Context, fn func(repos repository.Repositories) error) (err error) {
	var isCommitted bool
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		s.log.Error("Error beginning transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Error("Transaction rollback failed",
					logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			} else {
				s.log.Debug("Transaction rolled back",
					logger.ErrorField("error", err))
			}
		}
	}()

	if err = fn(bind(tx, s.log)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.Error("Error committing transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

func isRetryableError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

// translateError maps driver errors onto repository sentinels.
func translateError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, repository.ErrDuplicate, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w (%s)", op, repository.ErrNotFound, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
