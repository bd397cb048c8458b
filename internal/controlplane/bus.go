package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
)

// Modos de validação de eventos (METRIC_EVENT_VALIDATION).
const (
	ValidationOff   = "off"
	ValidationWarn  = "warn"
	ValidationError = "error"
)

// EventStore persiste o log append-only (tabela control_plane_events).
type EventStore interface {
	Append(ctx context.Context, ev *events.ControlPlaneEvent) error
}

// Publisher publica o evento serializado no Kafka.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Bus é o barramento de auditoria do control plane: valida o evento contra
// a tabela de propriedades obrigatórias, grava no log append-only e publica
// no Kafka. Validação e persistência são independentes: um evento rejeitado
// em modo warn ainda é gravado.
type Bus struct {
	Log       *zap.Logger
	Store     EventStore
	Publisher Publisher

	Mode         string // off | warn | error
	AgentID      string
	ModelVersion string

	OnEmitted func(name string) // métricas
}

// Emit monta o envelope a partir de uma variante tipada e despacha.
func (b *Bus) Emit(ctx context.Context, ev events.Typed) error {
	env := events.ControlPlaneEvent{
		EventName:    ev.EventName(),
		Timestamp:    time.Now().UTC(),
		RequestID:    RequestIDFrom(ctx),
		TraceID:      TraceIDFrom(ctx),
		AgentID:      b.AgentID,
		ModelVersion: b.ModelVersion,
		Properties:   ev.Props(),
	}
	return b.EmitEnvelope(ctx, env)
}

// EmitEnvelope despacha um envelope montado à mão (passa pela mesma
// validação de runtime).
func (b *Bus) EmitEnvelope(ctx context.Context, env events.ControlPlaneEvent) error {
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	if env.TraceID == "" {
		env.TraceID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if err := Validate(env); err != nil {
		switch b.Mode {
		case ValidationError:
			return err
		case ValidationWarn:
			b.Log.Warn("event failed validation", zap.String("event", env.EventName), zap.Error(err))
		}
	}

	if b.Store != nil {
		if err := b.Store.Append(ctx, &env); err != nil {
			return fmt.Errorf("append event %s: %w", env.EventName, err)
		}
	}

	if b.Publisher != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", env.EventName, err)
		}
		if err := b.Publisher.Publish(ctx, env.EventName, payload); err != nil {
			// falha de broker não invalida o log já persistido
			b.Log.Warn("event publish failed", zap.String("event", env.EventName), zap.Error(err))
		}
	}

	if b.OnEmitted != nil {
		b.OnEmitted(env.EventName)
	}
	return nil
}

// Validate confere as chaves obrigatórias do event_name em properties.
func Validate(env events.ControlPlaneEvent) error {
	required, ok := events.RequiredProps[env.EventName]
	if !ok {
		return fmt.Errorf("unknown event name %q", env.EventName)
	}
	for _, key := range required {
		if _, present := env.Properties[key]; !present {
			return fmt.Errorf("event %s missing required property %q", env.EventName, key)
		}
	}
	return nil
}

// Chaves de contexto para correlação de requests.
type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceIDKey
)

// WithRequestID anota o request_id no contexto.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTraceID anota o trace_id no contexto.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// RequestIDFrom recupera o request_id (vazio se não anotado).
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// TraceIDFrom recupera o trace_id (vazio se não anotado).
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
