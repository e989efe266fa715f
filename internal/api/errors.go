package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

type errorBody struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor сопоставляет вид ошибки с HTTP-статусом.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound, domain.KindAccountNotFound:
		return http.StatusNotFound
	case domain.KindUnauthenticated, domain.KindInvalidCredential, domain.KindFederatedLoginFailed:
		return http.StatusUnauthorized
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindConflict, domain.KindEmailAlreadyInUse:
		return http.StatusConflict
	case domain.KindInvalidInput, domain.KindWeakCredential, domain.KindInvalidOrExpiredToken, domain.KindFederatedLoginCancelled:
		return http.StatusBadRequest
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// toErrorBody готовит тело ответа. Подробности внутренних ошибок наружу не уходят.
func toErrorBody(err error) errorBody {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal || kind == domain.KindPartialWriteFailure {
		return errorBody{Kind: kind, Message: "internal error"}
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		return errorBody{Kind: kind, Message: de.Message}
	}
	return errorBody{Kind: kind, Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(domain.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: toErrorBody(err)})
}

// maxBodyBytes вмещает картинку в data URL и остальные поля поста.
const maxBodyBytes = 2 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Wrap(domain.KindInvalidInput, "api.decode", err)
	}
	return nil
}
