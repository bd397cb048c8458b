package topics

const (
	// Resultados finais de jogos (disparam liquidação)
	GameResults = "game_results"

	// Auditoria do control plane
	ControlPlaneEvents = "control_plane_events"

	// DLQs
	GameResultsDLQ = "game_results_dlq"
)
