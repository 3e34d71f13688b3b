package messaging

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a broker error.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Connection errors
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Publish errors
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodePublishFailed   ErrorCode = "PUBLISH_FAILED"

	// Subscription errors
	ErrCodeSubscriptionNotFound ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeGroupExists          ErrorCode = "GROUP_EXISTS"

	// Message errors
	ErrCodeParseError       ErrorCode = "PARSE_ERROR"
	ErrCodeHandleCompleted  ErrorCode = "HANDLE_COMPLETED"
	ErrCodeDeadLetterFailed ErrorCode = "DEAD_LETTER_FAILED"

	// Store errors
	ErrCodeStoreError ErrorCode = "STORE_ERROR"
)

// Common sentinel errors for easy comparison.
var (
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrGroupExists          = errors.New("consumer group already exists")
	ErrParse                = errors.New("entry parse failed")
	ErrHandleCompleted      = errors.New("message handle already completed")
	ErrStore                = errors.New("hot store operation failed")
)

// BrokerError is a broker error with structured context.
type BrokerError struct {
	// Code is the error code.
	Code ErrorCode `json:"code"`
	// Message is the human-readable error message.
	Message string `json:"message"`
	// Cause is the underlying error.
	Cause error `json:"-"`
	// Topic is the topic involved (if applicable).
	Topic string `json:"topic,omitempty"`
	// Subscription is the subscription involved (if applicable).
	Subscription string `json:"subscription,omitempty"`
	// MessageID is the message id involved (if applicable).
	MessageID string `json:"message_id,omitempty"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code ErrorCode, message string, cause error) *BrokerError {
	return &BrokerError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *BrokerError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BrokerError) Is(target error) bool {
	if t, ok := target.(*BrokerError); ok {
		return e.Code == t.Code
	}
	if sentinel, ok := sentinelFor(e.Code); ok && target == sentinel {
		return true
	}
	return errors.Is(e.Cause, target)
}

// WithTopic sets the topic name.
func (e *BrokerError) WithTopic(topic string) *BrokerError {
	e.Topic = topic
	return e
}

// WithSubscription sets the subscription name.
func (e *BrokerError) WithSubscription(subscription string) *BrokerError {
	e.Subscription = subscription
	return e
}

// WithMessageID sets the message id.
func (e *BrokerError) WithMessageID(id string) *BrokerError {
	e.MessageID = id
	return e
}

func sentinelFor(code ErrorCode) (error, bool) {
	switch code {
	case ErrCodeInvalidConfig:
		return ErrInvalidConfig, true
	case ErrCodeConnectionFailed:
		return ErrConnectionFailed, true
	case ErrCodePayloadTooLarge:
		return ErrPayloadTooLarge, true
	case ErrCodeSubscriptionNotFound:
		return ErrSubscriptionNotFound, true
	case ErrCodeGroupExists:
		return ErrGroupExists, true
	case ErrCodeParseError:
		return ErrParse, true
	case ErrCodeHandleCompleted:
		return ErrHandleCompleted, true
	case ErrCodeStoreError:
		return ErrStore, true
	default:
		return nil, false
	}
}

// isRetryable determines if an error code represents a retryable error.
func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeStoreError:
		return true
	default:
		return false
	}
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *BrokerError {
	return NewBrokerError(ErrCodeInvalidConfig, message, cause)
}

// ConnectionError creates a connection error.
func ConnectionError(message string, cause error) *BrokerError {
	return NewBrokerError(ErrCodeConnectionFailed, message, cause)
}

// PayloadTooLargeError creates a payload-bound error.
func PayloadTooLargeError(topic string, size, limit int64) *BrokerError {
	return NewBrokerError(ErrCodePayloadTooLarge,
		fmt.Sprintf("encoded payload is %d bytes, limit is %d", size, limit), nil).
		WithTopic(topic)
}

// SubscriptionNotFoundError creates a missing-subscription error.
func SubscriptionNotFoundError(topic, subscription string) *BrokerError {
	return NewBrokerError(ErrCodeSubscriptionNotFound, "subscription not found", nil).
		WithTopic(topic).
		WithSubscription(subscription)
}

// ParseError creates an entry-decode error.
func ParseError(messageID string, cause error) *BrokerError {
	return NewBrokerError(ErrCodeParseError, "failed to decode log entry", cause).
		WithMessageID(messageID)
}

// StoreError wraps a hot-store failure.
func StoreError(message string, cause error) *BrokerError {
	return NewBrokerError(ErrCodeStoreError, message, cause)
}

// IsBrokerError checks if an error is a BrokerError.
func IsBrokerError(err error) bool {
	var brokerErr *BrokerError
	return errors.As(err, &brokerErr)
}

// GetBrokerError extracts a BrokerError from an error chain.
func GetBrokerError(err error) *BrokerError {
	var brokerErr *BrokerError
	if errors.As(err, &brokerErr) {
		return brokerErr
	}
	return nil
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if brokerErr := GetBrokerError(err); brokerErr != nil {
		return brokerErr.Retryable
	}
	return false
}
