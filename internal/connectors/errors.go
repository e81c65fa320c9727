package connectors

import (
	"errors"
	"fmt"
	"time"
)

// Закрытая таксономия ошибок платформы. Супервизор и диспетчер переключаются
// по виду ошибки (errors.As), а не по типам исключений конкретного клиента.

// AuthError — невалидные креды. Фатально, ретраи бессмысленны.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Cause) }
func (e *AuthError) Unwrap() error { return e.Cause }

// PermissionError — платформа отказала в праве на операцию (403).
type PermissionError struct {
	Cause error
}

func (e *PermissionError) Error() string { return fmt.Sprintf("permission denied: %v", e.Cause) }
func (e *PermissionError) Unwrap() error { return e.Cause }

// TransportError — сетевой сбой или 5xx. Локально восстановимо.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport failure: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// ClosedError — соединение с гейтвеем закрыто. Короткий бэкофф у супервизора.
type ClosedError struct {
	Cause error
}

func (e *ClosedError) Error() string { return fmt.Sprintf("connection closed: %v", e.Cause) }
func (e *ClosedError) Unwrap() error { return e.Cause }

// ThrottleError — платформа прислала Retry-After.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
func (e *ThrottleError) Unwrap() error { return e.Cause }

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

func IsClosed(err error) bool {
	var target *ClosedError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
