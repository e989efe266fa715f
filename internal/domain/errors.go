package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку слоя доступа к данным.
type Kind string

const (
	KindInternal            Kind = "internal"
	KindNotFound            Kind = "not_found"
	KindUnauthenticated     Kind = "unauthenticated"
	KindUnauthorized        Kind = "unauthorized"
	KindConflict            Kind = "conflict"
	KindInvalidInput        Kind = "invalid_input"
	KindTransient           Kind = "transient"
	KindPartialWriteFailure Kind = "partial_write_failure"

	KindEmailAlreadyInUse       Kind = "email_already_in_use"
	KindWeakCredential          Kind = "weak_credential"
	KindInvalidCredential       Kind = "invalid_credential"
	KindFederatedLoginCancelled Kind = "federated_login_cancelled"
	KindFederatedLoginFailed    Kind = "federated_login_failed"
	KindAccountNotFound         Kind = "account_not_found"
	KindInvalidOrExpiredToken   Kind = "invalid_or_expired_token"
)

// Error - ошибка с видом, операцией и исходной причиной.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is позволяет сравнивать ошибки по виду: errors.Is(err, domain.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// E создает ошибку заданного вида.
func E(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap оборачивает err ошибкой заданного вида.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Сравниваемые значения для errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrTransient           = &Error{Kind: KindTransient}
	ErrPartialWriteFailure = &Error{Kind: KindPartialWriteFailure}

	ErrEmailAlreadyInUse       = &Error{Kind: KindEmailAlreadyInUse}
	ErrWeakCredential          = &Error{Kind: KindWeakCredential}
	ErrInvalidCredential       = &Error{Kind: KindInvalidCredential}
	ErrFederatedLoginCancelled = &Error{Kind: KindFederatedLoginCancelled}
	ErrFederatedLoginFailed    = &Error{Kind: KindFederatedLoginFailed}
	ErrAccountNotFound         = &Error{Kind: KindAccountNotFound}
	ErrInvalidOrExpiredToken   = &Error{Kind: KindInvalidOrExpiredToken}
)

// KindOf возвращает вид ошибки. Для ошибок вне таксономии - KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient сообщает, имеет ли смысл повторить операцию.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
