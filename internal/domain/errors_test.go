package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Trainer.Connect", ErrSessionNotFound, "id 01H")
	want := "Trainer.Connect: id 01H: session not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Trainer.Create", ErrSessionLimit, "")
	want := "Trainer.Create: session limit reached"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Catalog.Sensor", ErrUnknownSensor, "BMP280")
	if !errors.Is(err, ErrUnknownSensor) {
		t.Error("errors.Is should match ErrUnknownSensor")
	}
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{McuPin: "PA0", Attempted: "Vdd", Owner: "Vout"}
	assert.Equal(t, "cannot connect Vdd to PA0: pin already in use by Vout", err.Error())
	assert.True(t, errors.Is(err, ErrPinConflict))

	wrapped := WrapOp("Session.Connect", err)
	var ce *ConflictError
	require.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, "Vout", ce.Owner)
	assert.Equal(t, CodePinConflict, ErrorCodeOf(wrapped))
}

func TestUnknownPinError(t *testing.T) {
	err := &UnknownPinError{Name: "PZ9"}
	assert.Equal(t, `unknown pin "PZ9"`, err.Error())
	assert.True(t, errors.Is(err, ErrUnknownPin))
	assert.Equal(t, CodeUnknownPin, ErrorCodeOf(err))
}

func TestConfigError(t *testing.T) {
	ce := &ConfigError{Source: "sensors.yaml"}
	assert.False(t, ce.HasProblems())
	ce.Add("sensor %q: duplicate pin %q", "TMP36", "GND")
	ce.Add("mcu pin %q has no group", "X1")
	require.True(t, ce.HasProblems())

	msg := ce.Error()
	assert.Contains(t, msg, "sensors.yaml")
	assert.Contains(t, msg, `duplicate pin "GND"`)
	assert.Contains(t, msg, `"X1" has no group`)
	assert.True(t, errors.Is(ce, ErrConfig))
	assert.Equal(t, CodeConfig, ErrorCodeOf(fmt.Errorf("load: %w", ce)))
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(ErrGatewayAuthFailed))
}

func TestErrorCodeOf_DomainErrorWrappingTyped(t *testing.T) {
	err := NewDomainError("Trainer.Connect", &ConflictError{McuPin: "PA0", Attempted: "B", Owner: "A"}, "")
	assert.Equal(t, CodePinConflict, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"history not found", NewSubSystemError("history", "Get", ErrNotFound, "01H"), CodeAttemptNotFound},
		{"session limit", NewSubSystemError("session", "Create", ErrLimitReached, ""), CodeSessionLimit},
		{"catalog duplicate", NewSubSystemError("catalog", "Parse", ErrDuplicate, "PA0"), CodeCatalogDup},
		{"fallback", NewSubSystemError("other", "Op", ErrNotFound, ""), CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	err := WrapOp("Session.Get", ErrSessionNotFound)
	assert.Equal(t, "Session.Get: session not found", err.Error())
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}
