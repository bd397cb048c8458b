package events

import "time"

// ControlPlaneEvent é o envelope de auditoria append-only do control plane.
// Todo evento emitido pelo pipeline (consenso, snapshot, liquidação) passa
// por esse envelope antes de ser persistido e publicado no Kafka.
type ControlPlaneEvent struct {
	EventName    string         `json:"event_name"`
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id"`
	TraceID      string         `json:"trace_id"`
	RunID        string         `json:"run_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	AgentID      string         `json:"agent_id"`
	ModelVersion string         `json:"model_version"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Assumptions  []string       `json:"assumptions,omitempty"`
	Properties   map[string]any `json:"properties"`
}

// Nomes de eventos emitidos pelo pipeline.
const (
	EventConsensusEvaluated  = "consensus_evaluated"
	EventConsensusConflict   = "consensus_conflict"
	EventOddsSnapshotCapture = "odds_snapshot_captured"
	EventAgentError          = "agent_error"
	EventUserOutcomeRecorded = "user_outcome_recorded"
)

// RequiredProps mapeia cada event_name para as chaves obrigatórias dentro de
// properties. Usado pelo bus quando a validação está em modo warn|error.
var RequiredProps = map[string][]string{
	EventConsensusEvaluated:  {"data_type", "consensus_level", "sources_used", "disagreement_score"},
	EventConsensusConflict:   {"data_type", "game_id", "sources_used", "disagreement_score"},
	EventOddsSnapshotCapture: {"snapshot_id", "game_id", "market", "selection", "consensus_level"},
	EventAgentError:          {"error_kind", "detail"},
	EventUserOutcomeRecorded: {"outcome_id", "bet_id", "settlement_status", "pnl_amount", "settled_at"},
}

// Typed é implementado pelas variantes tipadas abaixo. As variantes garantem
// em tempo de compilação que os campos obrigatórios de cada evento existem;
// a tabela RequiredProps continua valendo como validação de runtime para
// eventos montados à mão.
type Typed interface {
	EventName() string
	Props() map[string]any
}

// ConsensusEvaluated é emitido a cada chamada de aquisição de consenso.
type ConsensusEvaluated struct {
	DataType          string
	GameID            string
	ConsensusLevel    string
	SourcesUsed       []string
	DisagreementScore float64
}

func (e ConsensusEvaluated) EventName() string { return EventConsensusEvaluated }

func (e ConsensusEvaluated) Props() map[string]any {
	return map[string]any{
		"data_type":          e.DataType,
		"game_id":            e.GameID,
		"consensus_level":    e.ConsensusLevel,
		"sources_used":       e.SourcesUsed,
		"disagreement_score": e.DisagreementScore,
	}
}

// ConsensusConflict é emitido quando o consenso de resultados falha na
// política de finalidade (sinaliza que a liquidação deve aguardar).
type ConsensusConflict struct {
	DataType          string
	GameID            string
	SourcesUsed       []string
	DisagreementScore float64
}

func (e ConsensusConflict) EventName() string { return EventConsensusConflict }

func (e ConsensusConflict) Props() map[string]any {
	return map[string]any{
		"data_type":          e.DataType,
		"game_id":            e.GameID,
		"sources_used":       e.SourcesUsed,
		"disagreement_score": e.DisagreementScore,
	}
}

// OddsSnapshotCaptured é emitido quando um snapshot passa pelo dedupe e é
// persistido.
type OddsSnapshotCaptured struct {
	SnapshotID     string
	GameID         string
	Market         string
	Selection      string
	ConsensusLevel string
}

func (e OddsSnapshotCaptured) EventName() string { return EventOddsSnapshotCapture }

func (e OddsSnapshotCaptured) Props() map[string]any {
	return map[string]any{
		"snapshot_id":     e.SnapshotID,
		"game_id":         e.GameID,
		"market":          e.Market,
		"selection":       e.Selection,
		"consensus_level": e.ConsensusLevel,
	}
}

// AgentError é um aviso não fatal (ex: stale_closing_odds).
type AgentError struct {
	ErrorKind string
	Detail    string
}

func (e AgentError) EventName() string { return EventAgentError }

func (e AgentError) Props() map[string]any {
	return map[string]any{
		"error_kind": e.ErrorKind,
		"detail":     e.Detail,
	}
}

// UserOutcomeRecorded é emitido após a liquidação de uma aposta.
type UserOutcomeRecorded struct {
	OutcomeID        string
	BetID            string
	SettlementStatus string
	PnlAmount        float64
	SettledAt        time.Time
}

func (e UserOutcomeRecorded) EventName() string { return EventUserOutcomeRecorded }

func (e UserOutcomeRecorded) Props() map[string]any {
	return map[string]any{
		"outcome_id":        e.OutcomeID,
		"bet_id":            e.BetID,
		"settlement_status": e.SettlementStatus,
		"pnl_amount":        e.PnlAmount,
		"settled_at":        e.SettledAt.UTC().Format(time.RFC3339),
	}
}
