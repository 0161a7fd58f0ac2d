package handler

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/engine"
	"github.com/yieldloop/loopd/internal/server/middleware"
)

// Well-known throwaway development key.
const (
	ownerKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	ownerKeyAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

type stubEngine struct {
	lastOwner common.Address
	calls     int
}

func (s *stubEngine) position(owner common.Address) domain.Position {
	return domain.NewPosition("pos-1", owner, common.BigToAddress(big.NewInt(4)), "aave",
		big.NewInt(100), 24_400, 1.05, time.Now().UTC())
}

func (s *stubEngine) Open(_ context.Context, p engine.OpenParams) (engine.OpenResult, error) {
	s.lastOwner, s.calls = p.Owner, s.calls+1
	return engine.OpenResult{Position: s.position(p.Owner)}, nil
}

func (s *stubEngine) FlashOpen(_ context.Context, p engine.FlashOpenParams) (engine.OpenResult, error) {
	s.lastOwner, s.calls = p.Owner, s.calls+1
	return engine.OpenResult{Position: s.position(p.Owner)}, nil
}

func (s *stubEngine) Close(_ context.Context, owner common.Address) (engine.CloseResult, error) {
	s.lastOwner, s.calls = owner, s.calls+1
	return engine.CloseResult{
		Position:  s.position(owner),
		Returned:  big.NewInt(112),
		NetProfit: big.NewInt(12),
	}, nil
}

func (s *stubEngine) FlashClose(ctx context.Context, owner common.Address) (engine.CloseResult, error) {
	return s.Close(ctx, owner)
}

func (s *stubEngine) Rebalance(_ context.Context, owner common.Address) (engine.RebalanceResult, error) {
	s.lastOwner, s.calls = owner, s.calls+1
	return engine.RebalanceResult{Position: s.position(owner), Action: "none"}, nil
}

func (s *stubEngine) EstimateOpen(_ context.Context, deposit *big.Int, loops int) (engine.Estimate, error) {
	return engine.Estimate{
		Deposit:             deposit,
		Loops:               loops,
		ProjectedCollateral: big.NewInt(0),
		ProjectedDebt:       big.NewInt(0),
		ProjectedYield:      big.NewInt(0),
	}, nil
}

func signedLifecycleRequest(t *testing.T, keyHex, path, body string) *http.Request {
	t.Helper()
	op, err := crypto.NewOperator(keyHex)
	require.NoError(t, err)
	ts := time.Now().Unix()
	sig, err := op.Sign(crypto.OwnerRequestDigest(http.MethodPost, path, body, ts))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("X-LOOP-TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("X-LOOP-OWNER-SIGNATURE", hexutil.Encode(sig))
	return req
}

func TestCloseRequiresOwnerSignature(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	body := `{"owner":"` + ownerKeyAddr + `"}`
	rec := httptest.NewRecorder()
	h.Close(rec, httptest.NewRequest(http.MethodPost, "/api/positions/close", strings.NewReader(body)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, svc.calls)
}

func TestCloseAcceptsOwnerSignature(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	body := `{"owner":"` + ownerKeyAddr + `"}`
	rec := httptest.NewRecorder()
	h.Close(rec, signedLifecycleRequest(t, ownerKeyHex, "/api/positions/close", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, svc.calls)
	require.Equal(t, ownerKeyAddr, svc.lastOwner.Hex())
}

func TestCloseRejectsForeignOwner(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	// Signed with the caller's key but naming someone else's position.
	victim := common.BigToAddress(big.NewInt(0xBAD)).Hex()
	body := `{"owner":"` + victim + `"}`
	rec := httptest.NewRecorder()
	h.Close(rec, signedLifecycleRequest(t, ownerKeyHex, "/api/positions/close", body))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, svc.calls)
}

func TestCloseRejectsTamperedBody(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	signed := `{"owner":"` + ownerKeyAddr + `"}`
	req := signedLifecycleRequest(t, ownerKeyHex, "/api/positions/close", signed)
	tampered := `{"owner":"` + ownerKeyAddr + `","accelerated":true}`
	req.Body = httptest.NewRequest(http.MethodPost, "/api/positions/close", strings.NewReader(tampered)).Body

	rec := httptest.NewRecorder()
	h.Close(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, svc.calls)
}

func TestOpenAndRebalanceBindOwner(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	openBody := `{"owner":"` + ownerKeyAddr + `","deposit":"100","loops":3}`
	rec := httptest.NewRecorder()
	h.Open(rec, signedLifecycleRequest(t, ownerKeyHex, "/api/positions/open", openBody))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/api/positions/open", strings.NewReader(openBody)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rebBody := `{"owner":"` + ownerKeyAddr + `"}`
	rec = httptest.NewRecorder()
	h.Rebalance(rec, signedLifecycleRequest(t, ownerKeyHex, "/api/positions/rebalance", rebBody))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Rebalance(rec, httptest.NewRequest(http.MethodPost, "/api/positions/rebalance", strings.NewReader(rebBody)))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminBypassesOwnerSignature(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, true, testLogger())

	body := `{"owner":"` + ownerKeyAddr + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/positions/close", strings.NewReader(body))
	req = req.WithContext(middleware.WithAdmin(req.Context()))
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, svc.calls)
}

func TestOwnerAuthDisabledWithoutAPIKey(t *testing.T) {
	svc := &stubEngine{}
	h := NewEngineHandler(svc, false, testLogger())

	body := `{"owner":"` + ownerKeyAddr + `"}`
	rec := httptest.NewRecorder()
	h.Close(rec, httptest.NewRequest(http.MethodPost, "/api/positions/close", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, svc.calls)
}
