// Package codec handles the wire shape of log entries: JSON encoding with
// a size guard, content hashing, and the field-map envelope messages travel
// in.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrTooLarge is returned when an encoded value exceeds the caller's
// byte budget.
var ErrTooLarge = errors.New("encoded value too large")

// Envelope field names used in log entries.
const (
	FieldPayload     = "payload"
	FieldHeaders     = "headers"
	FieldHash        = "hash"
	FieldSize        = "size"
	FieldPublishedAt = "publishedAt"
	FieldRetryOf     = "retryOf"
	FieldAttempt     = "attempt"

	FieldOriginalMsgID = "originalMsgId"
	FieldReason        = "reason"
	FieldDeliveries    = "deliveries"
	FieldFailedAt      = "failedAt"
)

// EncodeJSON marshals v and enforces maxBytes (0 disables the check).
// When the bound is exceeded the encoded data is returned alongside
// ErrTooLarge so callers can report the offending size.
func EncodeJSON(v interface{}, maxBytes int64) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return data, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), maxBytes)
	}
	return data, nil
}

// HashSHA256 returns the hex-encoded SHA-256 of data.
func HashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NowISO returns the current UTC time in RFC 3339 with millisecond
// precision, the timestamp format carried in entry fields.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// MessageEnvelope is the decoded form of a topic-log entry.
type MessageEnvelope struct {
	Payload     json.RawMessage
	Headers     map[string]string
	Hash        string
	Size        int64
	PublishedAt string
	RetryOf     string
	Attempt     int
}

// BuildMessageFields assembles the field map for a fresh publish.
func BuildMessageFields(payload []byte, headers map[string]string) (map[string]string, error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		FieldPayload:     string(payload),
		FieldHeaders:     string(headerJSON),
		FieldHash:        HashSHA256(payload),
		FieldSize:        strconv.Itoa(len(payload)),
		FieldPublishedAt: NowISO(),
	}, nil
}

// BuildRetryFields assembles the field map for a retry re-injection.
func BuildRetryFields(payload []byte, headers map[string]string, retryOf string, attempt int) (map[string]string, error) {
	fields, err := BuildMessageFields(payload, headers)
	if err != nil {
		return nil, err
	}
	fields[FieldRetryOf] = retryOf
	fields[FieldAttempt] = strconv.Itoa(attempt)
	return fields, nil
}

// ParseMessageFields decodes an entry's field map. The payload must be
// valid JSON and headers, when present, must decode to a string map.
func ParseMessageFields(fields map[string]string) (*MessageEnvelope, error) {
	payload := fields[FieldPayload]
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("entry payload is not valid JSON")
	}
	env := &MessageEnvelope{
		Payload:     json.RawMessage(payload),
		Headers:     map[string]string{},
		Hash:        fields[FieldHash],
		PublishedAt: fields[FieldPublishedAt],
		RetryOf:     fields[FieldRetryOf],
	}
	if raw := fields[FieldHeaders]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &env.Headers); err != nil {
			return nil, fmt.Errorf("entry headers: %w", err)
		}
	}
	if raw := fields[FieldSize]; raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry size: %w", err)
		}
		env.Size = size
	}
	if raw := fields[FieldAttempt]; raw != "" {
		attempt, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("entry attempt: %w", err)
		}
		env.Attempt = attempt
	}
	return env, nil
}
