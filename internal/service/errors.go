package service

import (
	"errors"
	"fmt"
)

// Kind 对业务错误分类，handler 据此映射到 HTTP 状态码或 websocket 错误码。
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 按 Kind 与 Message 比较，使哨兵错误可以配合 errors.Is 使用。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) error   { return newError(KindValidation, format, args...) }
func NotFound(format string, args ...any) error  { return newError(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) error { return newError(KindForbidden, format, args...) }
func Conflict(format string, args ...any) error  { return newError(KindConflict, format, args...) }

func Unauthenticated(format string, args ...any) error {
	return newError(KindUnauthenticated, format, args...)
}

func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// KindOf 返回错误的分类，非 *Error 一律视为 internal。
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

// 常用的业务错误。
var (
	ErrUserNotFound       = NotFound("user not found")
	ErrRoomNotFound       = NotFound("room not found")
	ErrMessageNotFound    = NotFound("message not found")
	ErrNotRoomOwner       = Forbidden("only the room owner can do that")
	ErrNotRoomMember      = Forbidden("you are not a member of this room")
	ErrNotMessageAuthor   = Forbidden("only the author can edit this message")
	ErrCannotDelete       = Forbidden("only the author or the room owner can delete this message")
	ErrInvalidCredentials = Unauthenticated("invalid credentials")
	ErrSessionExpired     = Unauthenticated("session expired")
	ErrEmptyMessage       = Invalid("message text is required")
	ErrEmptyRoomName      = Invalid("room name is required")
	ErrEmailTaken         = Conflict("another account already uses this email for password login")
)
