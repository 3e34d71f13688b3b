package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON(map[string]string{"a": "b"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(data))
}

func TestEncodeJSON_TooLarge(t *testing.T) {
	data, err := EncodeJSON(map[string]string{"key": "a long enough value"}, 10)
	assert.ErrorIs(t, err, ErrTooLarge)
	// The encoded form is still returned so callers can report the size.
	assert.NotEmpty(t, data)
}

func TestEncodeJSON_Unmarshalable(t *testing.T) {
	_, err := EncodeJSON(make(chan int), 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooLarge)
}

func TestHashSHA256(t *testing.T) {
	// Known vector for the empty input.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashSHA256(nil))
	assert.Equal(t, HashSHA256([]byte("x")), HashSHA256([]byte("x")))
	assert.NotEqual(t, HashSHA256([]byte("x")), HashSHA256([]byte("y")))
}

func TestBuildAndParseMessageFields(t *testing.T) {
	payload := []byte(`{"order":42}`)
	headers := map[string]string{"trace": "abc"}

	fields, err := BuildMessageFields(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, string(payload), fields[FieldPayload])
	assert.Equal(t, HashSHA256(payload), fields[FieldHash])
	assert.NotEmpty(t, fields[FieldPublishedAt])

	env, err := ParseMessageFields(fields)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(env.Payload))
	assert.Equal(t, headers, env.Headers)
	assert.Equal(t, int64(len(payload)), env.Size)
	assert.Zero(t, env.Attempt)
	assert.Empty(t, env.RetryOf)
}

func TestBuildRetryFields(t *testing.T) {
	fields, err := BuildRetryFields([]byte(`"v"`), nil, "1000-0", 3)
	require.NoError(t, err)

	env, err := ParseMessageFields(fields)
	require.NoError(t, err)
	assert.Equal(t, "1000-0", env.RetryOf)
	assert.Equal(t, 3, env.Attempt)
}

func TestParseMessageFields_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad payload", map[string]string{FieldPayload: "{not json"}},
		{"bad headers", map[string]string{FieldPayload: "{}", FieldHeaders: "nope"}},
		{"bad size", map[string]string{FieldPayload: "{}", FieldSize: "x"}},
		{"bad attempt", map[string]string{FieldPayload: "{}", FieldAttempt: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessageFields(tt.fields)
			assert.Error(t, err)
		})
	}
}
