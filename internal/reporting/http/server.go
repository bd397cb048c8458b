package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/reporting"
)

// Server expõe os relatórios de edge e calibração.
type Server struct {
	Log     *zap.Logger
	Reports *reporting.Service
}

// Router monta as rotas do edge-report-service
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/reports/edge", s.edgeReport)         // GET ?days=30
	mux.HandleFunc("/v1/reports/calibration", s.calibration) // GET ?days=30
	return mux
}

// edgeReport devolve o relatório de CLV por corte da janela pedida
func (s *Server) edgeReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := s.Reports.GenerateEdgeReport(r.Context(), daysParam(r))
	if err != nil {
		s.Log.Error("edge report failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

// calibration devolve as métricas de calibração por decil
func (s *Server) calibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics, err := s.Reports.ComputeCalibrationMetrics(r.Context(), daysParam(r))
	if err != nil {
		s.Log.Error("calibration failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, metrics)
}

// daysParam lê ?days= com default 30
func daysParam(r *http.Request) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
