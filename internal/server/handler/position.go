package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
)

// HealthReader serves cached account health for read paths.
type HealthReader interface {
	Get(ctx context.Context, venue string) (domain.AccountHealth, time.Time, error)
}

// PositionHandler serves position read endpoints off the ledger and the
// health cache; it never touches a venue.
type PositionHandler struct {
	positions domain.PositionStore
	health    HealthReader
	logger    *slog.Logger
}

func NewPositionHandler(positions domain.PositionStore, health HealthReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, health: health, logger: logger}
}

type snapshotResponse struct {
	Position positionView `json:"position"`
	Health   *healthView  `json:"health,omitempty"`
}

type healthView struct {
	CollateralValue string  `json:"collateral_value"`
	DebtValue       string  `json:"debt_value"`
	HealthRatio     float64 `json:"health_ratio"`
	AsOf            string  `json:"as_of"`
}

// GetSnapshot returns the owner's active position with the latest cached
// health reading.
// GET /api/positions/{owner}
func (h *PositionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", r.PathValue("owner"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	pos, err := h.positions.GetActive(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get snapshot failed",
			slog.String("owner", owner.Hex()), slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	resp := snapshotResponse{Position: viewPosition(pos)}
	if health, ts, herr := h.health.Get(r.Context(), pos.LendingVenue); herr == nil {
		resp.Health = &healthView{
			CollateralValue: health.CollateralValue.String(),
			DebtValue:       health.DebtValue.String(),
			HealthRatio:     health.HealthRatio,
			AsOf:            ts.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListActive returns all active positions.
// GET /api/positions
func (h *PositionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.positions.ListActive)
}

// ListClosed returns closed positions, newest first.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.positions.ListClosed)
}

func (h *PositionHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, domain.ListOpts) ([]domain.Position, error)) {
	positions, err := fetch(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, viewPosition(p))
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

type liquidationDueResponse struct {
	Due       []positionView `json:"due"`
	CheckedAt string         `json:"checked_at"`
}

// ListLiquidationDue returns active positions whose cached health sits
// below their minimum.
// GET /api/positions/liquidation-due
func (h *PositionHandler) ListLiquidationDue(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListActive(r.Context(), domain.ListOpts{Limit: 500})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	due := make([]positionView, 0)
	for _, p := range positions {
		health, _, herr := h.health.Get(r.Context(), p.LendingVenue)
		if herr != nil {
			continue
		}
		if health.HealthRatio < p.MinHealthRatio {
			due = append(due, viewPosition(p))
		}
	}
	writeJSON(w, http.StatusOK, liquidationDueResponse{
		Due:       due,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
