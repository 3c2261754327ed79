package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/taskrunner/internal/domain"
)

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// lookupErr annotates a single-row query error with the entity it looked up.
// A missing row becomes domain.ErrNotFound.
func lookupErr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		err = domain.ErrNotFound
	}
	return fmt.Errorf("get %s %s: %w", entity, id, err)
}

// updatedOne turns an UPDATE that matched no row into domain.ErrNotFound.
func updatedOne(tag pgconn.CommandTag, err error, what string) error {
	switch {
	case err != nil:
		return fmt.Errorf("%s: %w", what, err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

// nonNil keeps JSON and text[] columns from storing NULL for empty slices.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
