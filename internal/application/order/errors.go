package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
	ErrForbidden  = fmt.Errorf("order: %w", apperr.ErrForbidden)
)

const maxWriteAttempts = 3

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

// saveWith applies mutate to o and persists it. On a version conflict it reloads the order and
// replays mutate on the fresh copy, so concurrent writers never lose each other's changes.
func saveWith(ctx context.Context, repo domain.Repository, o *domain.Order, mutate func(*domain.Order) error) (*domain.Order, error) {
	current := o
	for attempt := 1; ; attempt++ {
		if err := mutate(current); err != nil {
			return current, err
		}
		err := repo.Update(ctx, current)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			return current, wrapRepositoryError(err)
		}
		fresh, gerr := repo.Get(ctx, current.ID)
		if gerr != nil {
			return current, wrapRepositoryError(gerr)
		}
		current = fresh
	}
}
