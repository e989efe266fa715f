package storage

import (
	"errors"

	"github.com/UkralStul/fexora/internal/domain"
)

// Ошибки, которые возвращают реализации хранилищ.
var (
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("record already exists")
	ErrForbidden   = errors.New("record belongs to another owner")
	ErrUnavailable = errors.New("storage unavailable")
)

// Translate переводит ошибку хранилища в доменную таксономию.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return domain.Wrap(domain.KindNotFound, op, err)
	case errors.Is(err, ErrConflict):
		return domain.Wrap(domain.KindConflict, op, err)
	case errors.Is(err, ErrForbidden):
		return domain.Wrap(domain.KindUnauthorized, op, err)
	case errors.Is(err, ErrUnavailable):
		return domain.Wrap(domain.KindTransient, op, err)
	default:
		return domain.Wrap(domain.KindInternal, op, err)
	}
}
