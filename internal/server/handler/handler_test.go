package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/domain"
	"github.com/yieldloop/loopd/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteDomainErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNoActivePosition, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrHealthTooLow, http.StatusBadRequest},
		{domain.ErrSlippageExceeded, http.StatusBadRequest},
		{domain.ErrTokenBacksOpenPos, http.StatusBadRequest},
		{domain.ErrPositionActive, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrPaused, http.StatusUnprocessableEntity},
		{domain.ErrStrategyInactive, http.StatusUnprocessableEntity},
		{domain.ErrVenueNotApproved, http.StatusUnprocessableEntity},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrVenueCall, http.StatusBadGateway},
		{domain.ErrFlashShortfall, http.StatusBadGateway},
		{errors.New("unmapped"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, fmt.Errorf("op failed: %w", tc.err))
		require.Equal(t, tc.status, rec.Code, "error %v", tc.err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotEmpty(t, body["error"])
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/positions?limit=20&offset=5", nil)
	opts := parseListOpts(r)
	require.Equal(t, 20, opts.Limit)
	require.Equal(t, 5, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	opts = parseListOpts(r)
	require.Equal(t, 50, opts.Limit)
	require.Equal(t, 0, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/positions?limit=9999&offset=-3", nil)
	opts = parseListOpts(r)
	require.Equal(t, 500, opts.Limit)
	require.Equal(t, 0, opts.Offset)
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("deposit", "1000000")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), v.Int64())

	for _, bad := range []string{"", "0", "-5", "1.5", "abc"} {
		_, err := parseAmount("deposit", bad)
		require.ErrorIs(t, err, domain.ErrInvalidInput, "input %q", bad)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("owner", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	require.NoError(t, err)
	require.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr.Hex())

	_, err = parseAddress("owner", "nope")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func newPositionFixture(t *testing.T) (*PositionHandler, *memstore.PositionStore, *memstore.HealthCache) {
	t.Helper()
	positions := memstore.NewPositionStore()
	health := memstore.NewHealthCache()
	return NewPositionHandler(positions, health, testLogger()), positions, health
}

func seedHandlerPosition(t *testing.T, store *memstore.PositionStore, owner common.Address) domain.Position {
	t.Helper()
	pos := domain.NewPosition("pos-1", owner, common.BigToAddress(big.NewInt(4)), "aave",
		big.NewInt(100), 24_400, 1.05, time.Now().UTC())
	pos.CollateralDeposited = big.NewInt(244)
	pos.DebtOutstanding = big.NewInt(144)
	pos.Claims.Yield = big.NewInt(244)
	pos.LoopsExecuted = 3
	require.NoError(t, store.Create(context.Background(), pos))
	return pos
}

func TestGetSnapshot(t *testing.T) {
	h, store, cache := newPositionFixture(t)
	owner := common.BigToAddress(big.NewInt(0xA0))
	seedHandlerPosition(t, store, owner)

	require.NoError(t, cache.Set(context.Background(), "aave", domain.AccountHealth{
		CollateralValue: big.NewInt(244),
		DebtValue:       big.NewInt(144),
		HealthRatio:     244.0 / 144.0,
	}, time.Now().UTC()))

	req := httptest.NewRequest(http.MethodGet, "/api/positions/"+owner.Hex(), nil)
	req.SetPathValue("owner", owner.Hex())
	rec := httptest.NewRecorder()
	h.GetSnapshot(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Position struct {
			ID            string `json:"id"`
			Collateral    string `json:"collateral_deposited"`
			Debt          string `json:"debt_outstanding"`
			LoopsExecuted int    `json:"loops_executed"`
			State         string `json:"state"`
		} `json:"position"`
		Health *struct {
			HealthRatio float64 `json:"health_ratio"`
		} `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pos-1", resp.Position.ID)
	require.Equal(t, "244", resp.Position.Collateral)
	require.Equal(t, "144", resp.Position.Debt)
	require.Equal(t, 3, resp.Position.LoopsExecuted)
	require.Equal(t, "healthy", resp.Position.State)
	require.NotNil(t, resp.Health)
	require.InDelta(t, 244.0/144.0, resp.Health.HealthRatio, 1e-9)
}

func TestGetSnapshotUnknownOwner(t *testing.T) {
	h, _, _ := newPositionFixture(t)
	owner := common.BigToAddress(big.NewInt(0xBEEF))

	req := httptest.NewRequest(http.MethodGet, "/api/positions/"+owner.Hex(), nil)
	req.SetPathValue("owner", owner.Hex())
	rec := httptest.NewRecorder()
	h.GetSnapshot(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSnapshotBadAddress(t *testing.T) {
	h, _, _ := newPositionFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/zzz", nil)
	req.SetPathValue("owner", "zzz")
	rec := httptest.NewRecorder()
	h.GetSnapshot(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLiquidationDue(t *testing.T) {
	h, store, cache := newPositionFixture(t)
	owner := common.BigToAddress(big.NewInt(0xA0))
	seedHandlerPosition(t, store, owner)

	// Healthy reading: nothing due.
	require.NoError(t, cache.Set(context.Background(), "aave", domain.AccountHealth{
		CollateralValue: big.NewInt(244),
		DebtValue:       big.NewInt(144),
		HealthRatio:     1.69,
	}, time.Now().UTC()))

	rec := httptest.NewRecorder()
	h.ListLiquidationDue(rec, httptest.NewRequest(http.MethodGet, "/api/positions/liquidation-due", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Due []json.RawMessage `json:"due"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Due)

	// Below the position's 1.05 minimum.
	require.NoError(t, cache.Set(context.Background(), "aave", domain.AccountHealth{
		CollateralValue: big.NewInt(122),
		DebtValue:       big.NewInt(144),
		HealthRatio:     0.85,
	}, time.Now().UTC()))

	rec = httptest.NewRecorder()
	h.ListLiquidationDue(rec, httptest.NewRequest(http.MethodGet, "/api/positions/liquidation-due", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Due, 1)
}

type stubBlobReader struct {
	objects map[string]string
}

func (s *stubBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("stub: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *stubBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, body := range s.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(body))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (s *stubBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := s.objects[path]
	return ok, nil
}

func TestListArchives(t *testing.T) {
	blobs := &stubBlobReader{objects: map[string]string{
		"archive/positions/2026-07.jsonl": "{}\n",
		"archive/audit/2026-07.jsonl":     "{}\n{}\n",
	}}
	h := NewAdminHandler(nil, nil, blobs, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Objects []struct {
			Path string `json:"path"`
			Size int64  `json:"size"`
		} `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 2)
	require.Equal(t, "archive/audit/2026-07.jsonl", resp.Objects[0].Path)
	require.Equal(t, int64(6), resp.Objects[0].Size)

	// Prefix narrows to one kind.
	rec = httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive?prefix=positions/", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	require.Equal(t, "archive/positions/2026-07.jsonl", resp.Objects[0].Path)
}

func TestGetArchiveStreamsObject(t *testing.T) {
	blobs := &stubBlobReader{objects: map[string]string{
		"archive/positions/2026-07.jsonl": `{"id":"a"}` + "\n",
	}}
	h := NewAdminHandler(nil, nil, blobs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/archive/positions/2026-07.jsonl", nil)
	req.SetPathValue("key", "positions/2026-07.jsonl")
	rec := httptest.NewRecorder()
	h.GetArchive(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Equal(t, `{"id":"a"}`+"\n", rec.Body.String())

	// Unknown key maps to 404.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/archive/positions/1999-01.jsonl", nil)
	req.SetPathValue("key", "positions/1999-01.jsonl")
	rec = httptest.NewRecorder()
	h.GetArchive(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveEndpointsWithoutStorage(t *testing.T) {
	h := NewAdminHandler(nil, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.GetArchive(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
