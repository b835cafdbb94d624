package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Gateway-integration errors
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrDecryption            = errors.New("webhook resource decryption failed")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrGateway               = errors.New("gateway returned a non-success response")
	ErrDuplicateDelivery     = errors.New("duplicate webhook delivery")
	ErrRefundExceedsAmount   = errors.New("refund exceeds refundable amount")
)
