package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
)

// memEventStore acumula envelopes.
type memEventStore struct {
	appended []events.ControlPlaneEvent
}

func (s *memEventStore) Append(_ context.Context, ev *events.ControlPlaneEvent) error {
	s.appended = append(s.appended, *ev)
	return nil
}

func TestEmitFillsEnvelopeAndPersists(t *testing.T) {
	store := &memEventStore{}
	bus := &Bus{Log: zap.NewNop(), Store: store, Mode: ValidationError, AgentID: "market-data-service"}

	ctx := WithRequestID(context.Background(), "req-1")
	err := bus.Emit(ctx, events.AgentError{ErrorKind: "stale_closing_odds", Detail: "snapshot s1"})
	require.NoError(t, err)

	require.Len(t, store.appended, 1)
	env := store.appended[0]
	assert.Equal(t, events.EventAgentError, env.EventName)
	assert.Equal(t, "req-1", env.RequestID)
	assert.NotEmpty(t, env.TraceID) // preenchido com uuid quando ausente
	assert.Equal(t, "market-data-service", env.AgentID)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "stale_closing_odds", env.Properties["error_kind"])
}

func TestEmitEnvelopeValidationModes(t *testing.T) {
	bad := events.ControlPlaneEvent{
		EventName:  events.EventUserOutcomeRecorded,
		Properties: map[string]any{"outcome_id": "o1"}, // faltam as demais chaves
	}

	t.Run("error mode rejects", func(t *testing.T) {
		store := &memEventStore{}
		bus := &Bus{Log: zap.NewNop(), Store: store, Mode: ValidationError}
		err := bus.EmitEnvelope(context.Background(), bad)
		require.Error(t, err)
		assert.Empty(t, store.appended)
	})

	t.Run("warn mode persists anyway", func(t *testing.T) {
		store := &memEventStore{}
		bus := &Bus{Log: zap.NewNop(), Store: store, Mode: ValidationWarn}
		require.NoError(t, bus.EmitEnvelope(context.Background(), bad))
		assert.Len(t, store.appended, 1)
	})

	t.Run("off mode skips validation", func(t *testing.T) {
		store := &memEventStore{}
		bus := &Bus{Log: zap.NewNop(), Store: store, Mode: ValidationOff}
		require.NoError(t, bus.EmitEnvelope(context.Background(), bad))
		assert.Len(t, store.appended, 1)
	})
}

func TestValidateUnknownEventName(t *testing.T) {
	err := Validate(events.ControlPlaneEvent{EventName: "made_up_event", Properties: map[string]any{}})
	assert.Error(t, err)
}

func TestValidateCompleteEvent(t *testing.T) {
	env := events.ControlPlaneEvent{
		EventName: events.EventUserOutcomeRecorded,
		Properties: map[string]any{
			"outcome_id":        "o1",
			"bet_id":            "b1",
			"settlement_status": "won",
			"pnl_amount":        90.91,
			"settled_at":        time.Now().UTC().Format(time.RFC3339),
		},
	}
	assert.NoError(t, Validate(env))
}

func TestTypedVariantsSatisfyRequiredProps(t *testing.T) {
	// toda variante tipada tem que passar na validação de runtime
	variants := []events.Typed{
		events.ConsensusEvaluated{},
		events.ConsensusConflict{},
		events.OddsSnapshotCaptured{},
		events.AgentError{},
		events.UserOutcomeRecorded{},
	}
	for _, v := range variants {
		env := events.ControlPlaneEvent{EventName: v.EventName(), Properties: v.Props()}
		assert.NoError(t, Validate(env), v.EventName())
	}
}
