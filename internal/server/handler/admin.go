package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// AdminService defines the privileged operations the handler exposes.
type AdminService interface {
	Pause(ctx context.Context, by string)
	Resume(ctx context.Context, by string)
	Paused() bool
	Strategy(ctx context.Context) (domain.StrategyConfig, error)
	UpdateStrategy(ctx context.Context, cfg domain.StrategyConfig, by string) error
	SetVenueApproval(ctx context.Context, category domain.VenueCategory, addr common.Address, approved bool, by string) error
	EmergencyWithdraw(ctx context.Context, token, to common.Address, amount *big.Int, by string) error
}

// RegistryReader lists registry entries for the read endpoint.
type RegistryReader interface {
	List(ctx context.Context, category domain.VenueCategory) ([]domain.RegistryEntry, error)
}

// AdminHandler serves the /api/admin surface. Authentication happens in the
// middleware; the X-Admin-Id header only labels audit entries.
type AdminHandler struct {
	admin    AdminService
	registry RegistryReader
	blobs    domain.BlobReader // nil when blob storage is not configured
	logger   *slog.Logger
}

func NewAdminHandler(admin AdminService, registry RegistryReader, blobs domain.BlobReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, registry: registry, blobs: blobs, logger: logger}
}

func adminID(r *http.Request) string {
	if id := r.Header.Get("X-Admin-Id"); id != "" {
		return id
	}
	return "admin"
}

// Pause stops state-changing engine operations.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.admin.Pause(r.Context(), adminID(r))
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// Resume re-enables engine operations.
// POST /api/admin/resume
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.admin.Resume(r.Context(), adminID(r))
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

type strategyBody struct {
	BaseAsset        string  `json:"base_asset"`
	PrincipalClaim   string  `json:"principal_claim"`
	YieldClaim       string  `json:"yield_claim"`
	SplittingMarket  string  `json:"splitting_market"`
	SwapRouter       string  `json:"swap_router"`
	LendingVenue     string  `json:"lending_venue"`
	MaxLeverageBps   int64   `json:"max_leverage_bps"`
	MinHealthRatio   float64 `json:"min_health_ratio"`
	TargetLTVBps     int64   `json:"target_ltv_bps"`
	SlippageFloorBps int64   `json:"slippage_floor_bps"`
	SlippageDecayBps int64   `json:"slippage_decay_bps"`
	Active           bool    `json:"active"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
}

// GetStrategy returns the current strategy configuration.
// GET /api/admin/strategy
func (h *AdminHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.admin.Strategy(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategyBody{
		BaseAsset:        cfg.BaseAsset.Hex(),
		PrincipalClaim:   cfg.PrincipalClaim.Hex(),
		YieldClaim:       cfg.YieldClaim.Hex(),
		SplittingMarket:  cfg.SplittingMarket.Hex(),
		SwapRouter:       cfg.SwapRouter.Hex(),
		LendingVenue:     cfg.LendingVenue,
		MaxLeverageBps:   cfg.MaxLeverageBps,
		MinHealthRatio:   cfg.MinHealthRatio,
		TargetLTVBps:     cfg.TargetLTVBps,
		SlippageFloorBps: cfg.SlippageFloorBps,
		SlippageDecayBps: cfg.SlippageDecayBps,
		Active:           cfg.Active,
		UpdatedAt:        cfg.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// UpdateStrategy replaces the strategy configuration.
// PUT /api/admin/strategy
func (h *AdminHandler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var body strategyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg := domain.StrategyConfig{
		LendingVenue:     body.LendingVenue,
		MaxLeverageBps:   body.MaxLeverageBps,
		MinHealthRatio:   body.MinHealthRatio,
		TargetLTVBps:     body.TargetLTVBps,
		SlippageFloorBps: body.SlippageFloorBps,
		SlippageDecayBps: body.SlippageDecayBps,
		Active:           body.Active,
	}
	for _, f := range []struct {
		name string
		val  string
		dst  *common.Address
	}{
		{"base_asset", body.BaseAsset, &cfg.BaseAsset},
		{"principal_claim", body.PrincipalClaim, &cfg.PrincipalClaim},
		{"yield_claim", body.YieldClaim, &cfg.YieldClaim},
		{"splitting_market", body.SplittingMarket, &cfg.SplittingMarket},
		{"swap_router", body.SwapRouter, &cfg.SwapRouter},
	} {
		addr, err := parseAddress(f.name, f.val)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		*f.dst = addr
	}

	if err := h.admin.UpdateStrategy(r.Context(), cfg, adminID(r)); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: strategy update failed",
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type registryEntryView struct {
	Category  string `json:"category"`
	Address   string `json:"address"`
	Approved  bool   `json:"approved"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at"`
}

// ListRegistry lists registry entries for a category.
// GET /api/admin/registry/{category}
func (h *AdminHandler) ListRegistry(w http.ResponseWriter, r *http.Request) {
	category := domain.VenueCategory(r.PathValue("category"))
	entries, err := h.registry.List(r.Context(), category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]registryEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, registryEntryView{
			Category:  string(e.Category),
			Address:   e.Address.Hex(),
			Approved:  e.Approved,
			UpdatedBy: e.UpdatedBy,
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

type approvalRequest struct {
	Category string `json:"category"`
	Address  string `json:"address"`
	Approved bool   `json:"approved"`
}

// SetApproval writes a registry entry.
// POST /api/admin/registry
func (h *AdminHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.admin.SetVenueApproval(r.Context(), domain.VenueCategory(req.Category), addr, req.Approved, adminID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type archiveObjectView struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListArchives lists archived history objects, optionally narrowed by the
// prefix query parameter.
// GET /api/admin/archive
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	prefix := "archive/" + r.URL.Query().Get("prefix")
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive list failed",
			slog.String("prefix", prefix), slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	views := make([]archiveObjectView, 0, len(infos))
	for _, info := range infos {
		views = append(views, archiveObjectView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": views})
}

// GetArchive streams one archived object back. Keys are scoped under the
// archive/ prefix so the endpoint cannot read arbitrary bucket objects.
// GET /api/admin/archive/{key...}
func (h *AdminHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	key := "archive/" + r.PathValue("key")
	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

type emergencyWithdrawRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// EmergencyWithdraw moves unencumbered tokens to a recovery address.
// POST /api/admin/emergency-withdraw
func (h *AdminHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req emergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.admin.EmergencyWithdraw(r.Context(), token, to, amount, adminID(r)); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: emergency withdraw failed",
			slog.String("token", token.Hex()), slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}
