// Package handler contains the HTTP handlers of the API server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldloop/loopd/internal/domain"
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine sentinels onto HTTP status codes and writes
// the error message.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoActivePosition):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrSlippageExceeded),
		errors.Is(err, domain.ErrHealthTooLow), errors.Is(err, domain.ErrTokenBacksOpenPos):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPositionActive), errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrLockHeld):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrStrategyInactive),
		errors.Is(err, domain.ErrVenueNotApproved):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrVenueCall), errors.Is(err, domain.ErrFlashShortfall):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseAddress validates and decodes a hex address field.
func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s must be a hex address: %w", field, domain.ErrInvalidInput)
	}
	return common.HexToAddress(v), nil
}

// parseAmount decodes a positive decimal base-unit amount.
func parseAmount(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive decimal amount: %w", field, domain.ErrInvalidInput)
	}
	return n, nil
}

// positionView is the JSON shape of a position across the read endpoints.
type positionView struct {
	ID                string  `json:"id"`
	Owner             string  `json:"owner"`
	SplittingMarket   string  `json:"splitting_market"`
	LendingVenue      string  `json:"lending_venue"`
	Collateral        string  `json:"collateral_deposited"`
	Debt              string  `json:"debt_outstanding"`
	PrincipalHeld     string  `json:"principal_claims_held"`
	YieldHeld         string  `json:"yield_claims_held"`
	InitialDeposit    string  `json:"initial_deposit"`
	LoopsExecuted     int     `json:"loops_executed"`
	TargetLeverageBps int64   `json:"target_leverage_bps"`
	MinHealthRatio    float64 `json:"min_health_ratio"`
	State             string  `json:"state"`
	IsActive          bool    `json:"is_active"`
	OpenedAt          string  `json:"opened_at"`
	LastRebalancedAt  string  `json:"last_rebalanced_at"`
	ClosedAt          string  `json:"closed_at,omitempty"`
}

func viewPosition(p domain.Position) positionView {
	v := positionView{
		ID:                p.ID,
		Owner:             p.Owner.Hex(),
		SplittingMarket:   p.SplittingMarket.Hex(),
		LendingVenue:      p.LendingVenue,
		Collateral:        p.CollateralDeposited.String(),
		Debt:              p.DebtOutstanding.String(),
		InitialDeposit:    p.InitialDeposit.String(),
		LoopsExecuted:     p.LoopsExecuted,
		TargetLeverageBps: p.TargetLeverageBps,
		MinHealthRatio:    p.MinHealthRatio,
		State:             string(p.State),
		IsActive:          p.IsActive,
		OpenedAt:          p.OpenedAt.UTC().Format(time.RFC3339),
		LastRebalancedAt:  p.LastRebalancedAt.UTC().Format(time.RFC3339),
	}
	if p.Claims.Principal != nil {
		v.PrincipalHeld = p.Claims.Principal.String()
	}
	if p.Claims.Yield != nil {
		v.YieldHeld = p.Claims.Yield.String()
	}
	if p.ClosedAt != nil {
		v.ClosedAt = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	return v
}
