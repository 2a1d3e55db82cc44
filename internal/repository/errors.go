package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports an (issuer, serial) pair that is already stored,
	// usually under another log ID.
	ErrDuplicate = errors.New("certificate already stored")

	// ErrAlreadyExists reports a log ID that is already stored. Records are
	// never updated in place.
	ErrAlreadyExists = errors.New("log id already stored")

	// ErrUnavailable reports that the database could not be reached.
	ErrUnavailable = errors.New("storage unavailable")
)

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if ok := errors.As(err, &pgErr); ok {
		return pgErr.Code == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// classify maps driver errors onto the package's sentinel errors.
func classify(err error, table string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == table+"_pkey":
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.Detail)
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	// Anything that is not a server response failed on the way to the server.
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
