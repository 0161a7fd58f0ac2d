package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/ledger"
)

// LedgerReader provides portfolio aggregates.
type LedgerReader interface {
	Totals(ctx context.Context) (ledger.Totals, error)
}

// MetricsHandler serves portfolio risk metrics and the audit trail.
type MetricsHandler struct {
	ledger LedgerReader
	health HealthReader
	audit  domain.AuditStore
	venue  string
	logger *slog.Logger
}

func NewMetricsHandler(led LedgerReader, health HealthReader, audit domain.AuditStore, venue string, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{ledger: led, health: health, audit: audit, venue: venue, logger: logger}
}

// RiskMetrics returns portfolio totals alongside the latest cached venue
// health.
// GET /api/metrics/risk
func (h *MetricsHandler) RiskMetrics(w http.ResponseWriter, r *http.Request) {
	totals, err := h.ledger.Totals(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: risk metrics failed",
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"active_positions":     totals.ActivePositions,
		"collateral_deposited": totals.CollateralDeposited.String(),
		"debt_outstanding":     totals.DebtOutstanding.String(),
		"principal_held":       totals.PrincipalHeld.String(),
		"yield_held":           totals.YieldHeld.String(),
	}
	if health, ts, herr := h.health.Get(r.Context(), h.venue); herr == nil {
		resp["venue_health"] = map[string]any{
			"collateral_value": health.CollateralValue.String(),
			"debt_value":       health.DebtValue.String(),
			"health_ratio":     health.HealthRatio,
			"as_of":            ts.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

// AuditTrail returns recent audit entries, newest first.
// GET /api/metrics/audit
func (h *MetricsHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
