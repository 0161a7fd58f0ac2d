package gateway

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/domain"
)

func TestDoSignsRequests(t *testing.T) {
	auth := &crypto.GatewayAuth{Operator: "0xOperator", Secret: "shared"}

	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "0xOperator", r.Header.Get("X-LOOP-OPERATOR"))
		verified = auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get("X-LOOP-TIMESTAMP"), r.Header.Get("X-LOOP-SIGNATURE"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Auth: auth, Timeout: 5 * time.Second})
	resp, err := c.Do(context.Background(), http.MethodPost, "/v1/split", map[string]string{"amount": "100"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(resp))
	require.True(t, verified, "gateway signature did not verify")
}

func TestDoNormalizesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"market closed","code":"MARKET_CLOSED"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.Do(context.Background(), http.MethodGet, "/v1/quote", nil)
	require.ErrorIs(t, err, domain.ErrVenueCall)
	require.Contains(t, err.Error(), "market closed")
	require.Contains(t, err.Error(), "502")
}

func TestDoNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.Do(context.Background(), http.MethodGet, "/v1/health", nil)
	require.ErrorIs(t, err, domain.ErrVenueCall)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := c.Do(ctx, http.MethodGet, "/v1/health", nil)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901234567890", v.String())

	v, err = ParseAmount("")
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Int64())

	_, err = ParseAmount("12.5")
	require.Error(t, err)
	_, err = ParseAmount("abc")
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0", FormatAmount(nil))
	require.Equal(t, "144", FormatAmount(big.NewInt(144)))
}
