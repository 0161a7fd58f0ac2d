package treasury

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/loopd/internal/crypto"
	"github.com/yieldloop/loopd/internal/venue/gateway"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testClient(t *testing.T, handler http.HandlerFunc, signer Signer) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := gateway.New(gateway.Config{
		BaseURL: srv.URL,
		Auth:    &crypto.GatewayAuth{Operator: "0xOperator", Secret: "shared"},
	})
	return New(gw, signer)
}

func TestPushSignsWithdrawalIntent(t *testing.T) {
	op, err := crypto.NewOperator(testKeyHex)
	require.NoError(t, err)

	owner := common.BigToAddress(big.NewInt(7))
	token := common.BigToAddress(big.NewInt(1))
	amount := big.NewInt(5000)

	var captured transferRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/treasury/push", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Write([]byte(`{}`))
	}, op)

	require.NoError(t, c.Push(context.Background(), owner, token, amount))
	require.NotEmpty(t, captured.Signature)

	// The signature recovers to the operator over the exact intent.
	sig, err := hexutil.Decode(captured.Signature)
	require.NoError(t, err)
	pub, err := ethcrypto.SigToPub(withdrawDigest(owner, token, amount), sig)
	require.NoError(t, err)
	require.Equal(t, op.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestPushWithoutSignerOmitsSignature(t *testing.T) {
	var captured transferRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Write([]byte(`{}`))
	}, nil)

	require.NoError(t, c.Push(context.Background(), common.BigToAddress(big.NewInt(7)), common.BigToAddress(big.NewInt(1)), big.NewInt(10)))
	require.Empty(t, captured.Signature)
}

func TestPullCarriesNoSignature(t *testing.T) {
	op, err := crypto.NewOperator(testKeyHex)
	require.NoError(t, err)

	var captured transferRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/treasury/pull", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Write([]byte(`{}`))
	}, op)

	require.NoError(t, c.Pull(context.Background(), common.BigToAddress(big.NewInt(7)), common.BigToAddress(big.NewInt(1)), big.NewInt(10)))
	require.Empty(t, captured.Signature)
}

func TestBalance(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/treasury/balance", r.URL.Path)
		w.Write([]byte(`{"balance":"123456"}`))
	}, nil)

	v, err := c.Balance(context.Background(), common.BigToAddress(big.NewInt(1)))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(123456), v)
}
