package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/consensus"
	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/fetcher"
	"github.com/mfreitas/odds-settlement-platform/internal/capture"
	"github.com/mfreitas/odds-settlement-platform/internal/controlplane"
	"github.com/mfreitas/odds-settlement-platform/internal/market-data/cache"
	"github.com/mfreitas/odds-settlement-platform/internal/market-data/dto"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// LogStore é o que o servidor precisa para registrar apostas/recomendações.
type LogStore interface {
	InsertBet(ctx context.Context, b *records.StoredBet) error
	InsertRecommendation(ctx context.Context, r *records.AgentRecommendation) error
}

// ResultStore persiste resultados consolidados de jogos.
type ResultStore interface {
	UpsertGameResult(ctx context.Context, r *records.GameResultRecord) error
}

// SnapshotReader é o fallback de leitura de odds quando o Redis não tem o
// consenso corrente.
type SnapshotReader interface {
	LatestByGame(ctx context.Context, gameID string) (*records.OddsSnapshot, error)
}

// Server expõe a API do market-data-service.
type Server struct {
	Log      *zap.Logger
	Resolver *consensus.Resolver
	Capture  *capture.Service
	Cache    *cache.Cache
	Snaps    SnapshotReader
	Logs     LogStore
	Results  ResultStore
	Idem     controlplane.IdempotencyStore
	Publ     interface {
		PublishGameResult(context.Context, events.GameResultFinal) error
	}
}

// Router monta as rotas públicas do serviço
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/acquire", s.acquire)                   // POST
	mux.HandleFunc("/v1/odds/", s.getConsensusOdds)            // GET /v1/odds/{gameId}
	mux.HandleFunc("/v1/bets", s.placeBet)                     // POST
	mux.HandleFunc("/v1/recommendations", s.logRecommendation) // POST
	return mux
}

// acquire dispara a aquisição de consenso para as fontes informadas.
// Odds passam pela captura de snapshot (com dedupe); resultados finais são
// persistidos e publicados no tópico game_results.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.Sources) == 0 || req.DataType == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ctx := controlplane.WithRequestID(r.Context(), uuid.NewString())
	dataType := records.DataType(req.DataType)

	rec, err := s.Resolver.Acquire(ctx, req.Sources, dataType)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, fetcher.ErrDomainBlocked) || errors.Is(err, fetcher.ErrDomainNotAllowlisted) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, dto.AcquireResponse{})
		return
	}

	resp := dto.AcquireResponse{Consensus: rec}

	switch dataType {
	case records.DataTypeOdds:
		snap, captured, err := s.Capture.Capture(ctx, rec, time.Now().UTC())
		if err != nil {
			s.Log.Error("snapshot capture failed", zap.Error(err))
		} else if captured {
			resp.SnapshotCaptured = true
			resp.SnapshotID = snap.ID
		}
		if rec.Odds != nil {
			if err := s.Cache.SetConsensus(ctx, rec.Odds.GameID, rec); err != nil {
				s.Log.Warn("consensus cache set failed", zap.Error(err))
			}
		}

	case records.DataTypeResults:
		if rec.Results != nil {
			result := &records.GameResultRecord{
				GameID:         rec.Results.GameID,
				Payload:        rec.Results.Payload,
				CompletedAt:    rec.Results.CompletedAt,
				IsFinal:        rec.Results.IsFinal,
				SourceDomain:   rec.SourceDomain,
				StalenessMs:    rec.StalenessMs,
				FreshnessScore: rec.FreshnessScore,
			}
			if err := s.Results.UpsertGameResult(ctx, result); err != nil {
				s.Log.Error("game result upsert failed", zap.Error(err))
			} else if result.IsFinal {
				// resultado final dispara a liquidação via Kafka
				err := s.Publ.PublishGameResult(ctx, events.GameResultFinal{
					GameID:       result.GameID,
					HomeScore:    result.Payload.HomeScore,
					AwayScore:    result.Payload.AwayScore,
					CompletedAt:  result.CompletedAt,
					IsFinal:      true,
					SourceDomain: result.SourceDomain,
				})
				if err != nil {
					s.Log.Error("game result publish failed", zap.Error(err))
				} else {
					resp.ResultPublished = true
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// getConsensusOdds lê o último consenso de odds do jogo direto do Redis
func (s *Server) getConsensusOdds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// path: /v1/odds/{gameId}
	gameID := r.URL.Path[len("/v1/odds/"):]
	if gameID == "" {
		http.Error(w, "gameId required", http.StatusBadRequest)
		return
	}

	rec, err := s.Cache.GetConsensus(r.Context(), gameID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec != nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	// cache miss: cai pro último snapshot persistido do jogo
	if s.Snaps != nil {
		snap, err := s.Snaps.LatestByGame(r.Context(), gameID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	http.Error(w, "no recent consensus", http.StatusNotFound)
}

// placeBet registra uma aposta pendente sob o guard de idempotência
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.GameID == "" || req.MarketType == "" || req.Selection == "" || req.Stake <= 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	result, err := controlplane.WithIdempotency(r.Context(), s.Idem, "/v1/bets", req.UserID, idemKey,
		func(ctx context.Context) ([]byte, error) {
			bet := &records.StoredBet{
				ID:               uuid.NewString(),
				UserID:           req.UserID,
				GameID:           req.GameID,
				MarketType:       req.MarketType,
				Selection:        req.Selection,
				Line:             req.Line,
				Price:            req.Price,
				Stake:            req.Stake,
				RecommendationID: req.RecommendationID,
				Status:           records.StatusPending,
				CreatedAt:        time.Now().UTC(),
			}
			if err := s.Logs.InsertBet(ctx, bet); err != nil {
				return nil, err
			}
			return json.Marshal(dto.PlaceBetResponse{BetID: bet.ID, Status: bet.Status})
		})
	if err != nil {
		if errors.Is(err, controlplane.ErrMissingIdempotencyKey) {
			http.Error(w, "Idempotency-Key header required", http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeCached(w, result)
}

// logRecommendation registra uma recomendação do agente sob idempotência
func (s *Server) logRecommendation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.LogRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.GameID == "" || req.MarketType == "" || req.Selection == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	result, err := controlplane.WithIdempotency(r.Context(), s.Idem, "/v1/recommendations", "agent", idemKey,
		func(ctx context.Context) ([]byte, error) {
			rec := &records.AgentRecommendation{
				ID:         uuid.NewString(),
				GameID:     req.GameID,
				MarketType: req.MarketType,
				Selection:  req.Selection,
				Line:       req.Line,
				Price:      req.Price,
				Confidence: req.Confidence,
				Status:     records.StatusPending,
				CreatedAt:  time.Now().UTC(),
			}
			if err := s.Logs.InsertRecommendation(ctx, rec); err != nil {
				return nil, err
			}
			return json.Marshal(dto.LogRecommendationResponse{RecommendationID: rec.ID, Status: rec.Status})
		})
	if err != nil {
		if errors.Is(err, controlplane.ErrMissingIdempotencyKey) {
			http.Error(w, "Idempotency-Key header required", http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeCached(w, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCached devolve a resposta do guard de idempotência, marcando replay
func writeCached(w http.ResponseWriter, result *controlplane.IdempotencyResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Replayed {
		w.Header().Set("Idempotency-Replayed", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Response)
}
