package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/engine"
	"github.com/yieldloop/loopd/internal/server/middleware"
)

// EngineService defines the lifecycle operations the handler exposes.
type EngineService interface {
	Open(ctx context.Context, p engine.OpenParams) (engine.OpenResult, error)
	FlashOpen(ctx context.Context, p engine.FlashOpenParams) (engine.OpenResult, error)
	Close(ctx context.Context, owner common.Address) (engine.CloseResult, error)
	FlashClose(ctx context.Context, owner common.Address) (engine.CloseResult, error)
	Rebalance(ctx context.Context, owner common.Address) (engine.RebalanceResult, error)
	EstimateOpen(ctx context.Context, deposit *big.Int, loops int) (engine.Estimate, error)
}

// EngineHandler serves the state-changing position endpoints. When ownerAuth
// is enabled every lifecycle request must carry an owner signature over the
// request, binding the caller to the owner address in the body; requests
// authenticated with the admin key bypass the owner check.
type EngineHandler struct {
	engine    EngineService
	ownerAuth bool
	now       func() time.Time
	logger    *slog.Logger
}

func NewEngineHandler(svc EngineService, ownerAuth bool, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: svc, ownerAuth: ownerAuth, now: time.Now, logger: logger}
}

// readBody drains the request body so the raw bytes can be checked against
// the owner signature before decoding.
func readBody(r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, err
	}
	return body, nil
}

// authorizeOwner verifies that the caller controls the owner address named in
// the request body. Admin-authenticated requests pass unconditionally.
func (h *EngineHandler) authorizeOwner(r *http.Request, body []byte, owner common.Address) error {
	if !h.ownerAuth || middleware.IsAdmin(r.Context()) {
		return nil
	}
	ts := r.Header.Get("X-LOOP-TIMESTAMP")
	sig := r.Header.Get("X-LOOP-OWNER-SIGNATURE")
	if ts == "" || sig == "" {
		return fmt.Errorf("handler: owner signature required: %w", domain.ErrUnauthorized)
	}
	signer, err := crypto.RecoverOwner(r.Method, r.URL.Path, string(body), ts, sig, h.now())
	if err != nil {
		return fmt.Errorf("handler: owner signature rejected: %v: %w", err, domain.ErrUnauthorized)
	}
	if signer != owner {
		return fmt.Errorf("handler: signer %s does not match owner %s: %w",
			signer.Hex(), owner.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

type openRequest struct {
	Owner             string `json:"owner"`
	Deposit           string `json:"deposit"`
	Loops             int    `json:"loops"`
	TargetLeverageBps int64  `json:"target_leverage_bps"`
	Accelerated       bool   `json:"accelerated"`
}

type openResponse struct {
	Position positionView `json:"position"`
	Health   float64      `json:"health_ratio"`
}

// Open opens a position, looped or flash-accelerated.
// POST /api/positions/open
func (h *EngineHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	deposit, err := parseAmount("deposit", req.Deposit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.authorizeOwner(r, body, owner); err != nil {
		writeDomainError(w, err)
		return
	}

	var result engine.OpenResult
	if req.Accelerated {
		result, err = h.engine.FlashOpen(r.Context(), engine.FlashOpenParams{
			Owner:             owner,
			Deposit:           deposit,
			TargetLeverageBps: req.TargetLeverageBps,
		})
	} else {
		result, err = h.engine.Open(r.Context(), engine.OpenParams{
			Owner:   owner,
			Deposit: deposit,
			Loops:   req.Loops,
		})
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open failed",
			slog.String("owner", owner.Hex()),
			slog.Bool("accelerated", req.Accelerated),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openResponse{
		Position: viewPosition(result.Position),
		Health:   result.Health.HealthRatio,
	})
}

type closeRequest struct {
	Owner       string `json:"owner"`
	Accelerated bool   `json:"accelerated"`
}

type closeResponse struct {
	Position   positionView `json:"position"`
	Returned   string       `json:"returned"`
	NetProfit  string       `json:"net_profit"`
	Liquidated bool         `json:"liquidated"`
}

// Close unwinds the owner's active position.
// POST /api/positions/close
func (h *EngineHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.authorizeOwner(r, body, owner); err != nil {
		writeDomainError(w, err)
		return
	}

	var result engine.CloseResult
	if req.Accelerated {
		result, err = h.engine.FlashClose(r.Context(), owner)
	} else {
		result, err = h.engine.Close(r.Context(), owner)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close failed",
			slog.String("owner", owner.Hex()),
			slog.Bool("accelerated", req.Accelerated),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{
		Position:   viewPosition(result.Position),
		Returned:   result.Returned.String(),
		NetProfit:  result.NetProfit.String(),
		Liquidated: result.Liquidated,
	})
}

type rebalanceRequest struct {
	Owner string `json:"owner"`
}

type rebalanceResponse struct {
	Position positionView `json:"position"`
	Action   string       `json:"action"`
	Health   float64      `json:"health_ratio"`
}

// Rebalance adjusts the owner's position toward the target LTV.
// POST /api/positions/rebalance
func (h *EngineHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	body, err := readBody(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.authorizeOwner(r, body, owner); err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := h.engine.Rebalance(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: rebalance failed",
			slog.String("owner", owner.Hex()), slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceResponse{
		Position: viewPosition(result.Position),
		Action:   result.Action,
		Health:   result.Health.HealthRatio,
	})
}

// Estimate projects an open without executing it.
// GET /api/positions/estimate?deposit=...&loops=...
func (h *EngineHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	deposit, err := parseAmount("deposit", r.URL.Query().Get("deposit"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	loops, err := strconv.Atoi(r.URL.Query().Get("loops"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "loops must be an integer")
		return
	}
	est, err := h.engine.EstimateOpen(r.Context(), deposit, loops)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deposit":                est.Deposit.String(),
		"loops":                  est.Loops,
		"projected_collateral":   est.ProjectedCollateral.String(),
		"projected_debt":         est.ProjectedDebt.String(),
		"projected_yield_claims": est.ProjectedYield.String(),
		"leverage_bps":           est.LeverageBps,
		"projected_health":       est.ProjectedHealth,
	})
}
