package graph

import (
	"context"
	"errors"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// PresentError переводит ошибку резолвера в ошибку GraphQL. Вид доменной ошибки
// кладется в extensions.kind; подробности внутренних ошибок наружу не уходят.
func PresentError(ctx context.Context, err error) *gqlerror.Error {
	var src *gqlerror.Error
	if !errors.As(err, &src) {
		src = gqlerror.WrapPath(nil, err)
	}

	out := &gqlerror.Error{
		Err:        err,
		Message:    src.Message,
		Path:       src.Path,
		Locations:  src.Locations,
		Extensions: map[string]interface{}{},
	}
	for k, v := range src.Extensions {
		out.Extensions[k] = v
	}

	kind := domain.KindOf(err)
	out.Extensions["kind"] = string(kind)
	var de *domain.Error
	switch {
	case kind == domain.KindInternal || kind == domain.KindPartialWriteFailure:
		out.Message = "internal error"
	case errors.As(err, &de) && de.Message != "":
		out.Message = de.Message
	}
	return out
}
