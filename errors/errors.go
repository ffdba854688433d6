package errors

import "fmt"

var (
	// Connection lifecycle
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")
	ErrHandshakeTimeout     = fmt.Errorf("handshake not completed in time")
	ErrConnectionClosed     = fmt.Errorf("connection closed")
	ErrDeliveryUnavailable  = fmt.Errorf("delivery unavailable")

	// Request validation
	ErrInvalidPairing  = fmt.Errorf("participants must be one coordinator and one contributor")
	ErrChannelNotFound = fmt.Errorf("channel not found")
	ErrMessageNotFound = fmt.Errorf("message not found")
	ErrInvalidContent  = fmt.Errorf("invalid message content")

	// Client resilience
	ErrDuplicateDelivery    = fmt.Errorf("event already applied")
	ErrRetryBudgetExhausted = fmt.Errorf("retry budget exhausted")
	ErrNotConnected         = fmt.Errorf("client not connected")

	// Accounts
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	// Supervision
	ErrWorkerPanic = fmt.Errorf("worker panic")
)
