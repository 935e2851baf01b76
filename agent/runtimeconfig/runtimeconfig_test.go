package runtimeconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/modelregistry"
)

func baseRecord() *Record {
	return &Record{
		TenantID:           "tenant-a",
		TopicID:            "topic-a",
		ModelCode:          "primary",
		MaxTurns:           5,
		SessionTTLHours:    24,
		IdleTimeoutMinutes: 30,
	}
}

func newRegistry() *modelregistry.Registry {
	return modelregistry.New(
		modelregistry.Entry{Code: "primary", Active: true, MinTemperature: 0, MaxTemperature: 1},
		modelregistry.Entry{Code: "fallback", Active: true, MinTemperature: 0, MaxTemperature: 1},
		modelregistry.Entry{Code: "inactive", Active: false},
	)
}

func TestValidate_NoRegistrySkipsModelChecks(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	rec.FallbackModelCode = "whatever-unregistered"
	require.NoError(t, Validate(rec, nil))
}

func TestValidate_FallbackModelCodeMustResolve(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	rec.FallbackModelCode = "missing"
	err := Validate(rec, newRegistry())
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestValidate_FallbackModelCodeMustBeActive(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	rec.FallbackModelCode = "inactive"
	err := Validate(rec, newRegistry())
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestValidate_FallbackModelCodeMustDifferFromPrimary(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	rec.FallbackModelCode = rec.ModelCode
	err := Validate(rec, newRegistry())
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestValidate_AcceptsDistinctActiveFallback(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	rec.FallbackModelCode = "fallback"
	require.NoError(t, Validate(rec, newRegistry()))
}

func TestValidate_FallbackModelCodeOptional(t *testing.T) {
	t.Parallel()

	rec := baseRecord()
	require.NoError(t, Validate(rec, newRegistry()))
}
