package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		want domain.Kind
	}{
		{fmt.Errorf("post with id p1 not found: %w", ErrNotFound), domain.KindNotFound},
		{ErrConflict, domain.KindConflict},
		{ErrForbidden, domain.KindUnauthorized},
		{fmt.Errorf("dial: %w", ErrUnavailable), domain.KindTransient},
		{errors.New("syntax error"), domain.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.KindOf(Translate("op", tt.err)), tt.err.Error())
	}

	assert.NoError(t, Translate("op", nil))

	already := domain.E(domain.KindInvalidInput, "x", "bad")
	assert.Same(t, already, Translate("op", already))
}
