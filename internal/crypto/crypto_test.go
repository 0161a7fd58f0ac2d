package crypto

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway development key.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testKeyAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestGatewayAuthDeterministicHeaders(t *testing.T) {
	auth := &GatewayAuth{Operator: testKeyAddr, Secret: "shared-secret"}

	h1 := auth.HeadersAt("POST", "/v1/split", `{"amount":"100"}`, 1_700_000_000)
	h2 := auth.HeadersAt("POST", "/v1/split", `{"amount":"100"}`, 1_700_000_000)
	require.Equal(t, h1, h2)
	require.Equal(t, testKeyAddr, h1["X-LOOP-OPERATOR"])
	require.Equal(t, "1700000000", h1["X-LOOP-TIMESTAMP"])
	require.NotEmpty(t, h1["X-LOOP-SIGNATURE"])

	// Any change to the signed parts changes the signature.
	h3 := auth.HeadersAt("POST", "/v1/split", `{"amount":"101"}`, 1_700_000_000)
	require.NotEqual(t, h1["X-LOOP-SIGNATURE"], h3["X-LOOP-SIGNATURE"])
}

func TestGatewayAuthVerify(t *testing.T) {
	auth := &GatewayAuth{Operator: testKeyAddr, Secret: "shared-secret"}
	h := auth.HeadersAt("GET", "/v1/health", "", 1_700_000_000)

	require.True(t, auth.Verify("GET", "/v1/health", "", h["X-LOOP-TIMESTAMP"], h["X-LOOP-SIGNATURE"]))
	require.False(t, auth.Verify("GET", "/v1/health", "x", h["X-LOOP-TIMESTAMP"], h["X-LOOP-SIGNATURE"]))
	require.False(t, auth.Verify("GET", "/v1/health", "", "1700000001", h["X-LOOP-SIGNATURE"]))

	other := &GatewayAuth{Operator: testKeyAddr, Secret: "different"}
	require.False(t, other.Verify("GET", "/v1/health", "", h["X-LOOP-TIMESTAMP"], h["X-LOOP-SIGNATURE"]))
}

func TestGatewayAuthStringRedactsSecret(t *testing.T) {
	auth := &GatewayAuth{Operator: testKeyAddr, Secret: "super-secret-value"}
	s := auth.String()
	require.NotContains(t, s, "super-secret-value")
	require.Contains(t, s, "supe****")
}

func TestOperatorAddressDerivation(t *testing.T) {
	op, err := NewOperator(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, testKeyAddr, op.Address().Hex())

	_, err = NewOperator("not-hex")
	require.Error(t, err)
}

func TestOperatorSignRecoverable(t *testing.T) {
	op, err := NewOperator(testKeyHex)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("withdrawal intent"))
	sig, err := op.Sign(digest[:])
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := ethcrypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	require.Equal(t, op.Address(), ethcrypto.PubkeyToAddress(*pub))

	_, err = op.Sign([]byte("short"))
	require.Error(t, err)
}

func TestRecoverOwnerRoundTrip(t *testing.T) {
	op, err := NewOperator(testKeyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	body := `{"owner":"` + testKeyAddr + `","accelerated":false}`
	sig, err := op.Sign(OwnerRequestDigest("POST", "/api/positions/close", body, now.Unix()))
	require.NoError(t, err)

	signer, err := RecoverOwner("POST", "/api/positions/close", body,
		"1700000000", hexutil.Encode(sig), now)
	require.NoError(t, err)
	require.Equal(t, testKeyAddr, signer.Hex())

	// Tampering with any signed part recovers a different address.
	signer, err = RecoverOwner("POST", "/api/positions/close", body+" ",
		"1700000000", hexutil.Encode(sig), now)
	if err == nil {
		require.NotEqual(t, testKeyAddr, signer.Hex())
	}
}

func TestRecoverOwnerFreshness(t *testing.T) {
	op, err := NewOperator(testKeyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	sig, err := op.Sign(OwnerRequestDigest("POST", "/api/positions/open", "{}", now.Unix()))
	require.NoError(t, err)

	_, err = RecoverOwner("POST", "/api/positions/open", "{}",
		"1700000000", hexutil.Encode(sig), now.Add(OwnerSignatureTTL+time.Second))
	require.ErrorContains(t, err, "outside")

	_, err = RecoverOwner("POST", "/api/positions/open", "{}",
		"not-a-number", hexutil.Encode(sig), now)
	require.Error(t, err)

	_, err = RecoverOwner("POST", "/api/positions/open", "{}",
		"1700000000", "0xdead", now)
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong password")
	require.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	require.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	require.Error(t, err)
}

func TestLoadKeySources(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	require.Error(t, err)

	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
