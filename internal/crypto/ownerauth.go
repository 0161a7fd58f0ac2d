package crypto

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OwnerSignatureTTL bounds how far a signed request's timestamp may drift
// from server time before the signature is rejected as stale.
const OwnerSignatureTTL = 5 * time.Minute

// OwnerRequestDigest commits to the timestamp, method, path, and body of a
// position request. Owners sign this digest with their account key; the
// timestamp binding keeps a captured signature from being replayed outside
// the freshness window.
func OwnerRequestDigest(method, path, body string, unixTS int64) []byte {
	message := strconv.FormatInt(unixTS, 10) + method + path + body
	return ethcrypto.Keccak256([]byte(message))
}

// RecoverOwner validates the timestamp freshness and recovers the address
// that signed the request digest. The signature is the 65-byte [R || S || V]
// form hex-encoded with a 0x prefix.
func RecoverOwner(method, path, body, ts, sigHex string, now time.Time) (common.Address, error) {
	unixTS, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: parsing signature timestamp: %w", err)
	}
	drift := now.Unix() - unixTS
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(OwnerSignatureTTL/time.Second) {
		return common.Address{}, fmt.Errorf("crypto: signature timestamp outside %s window", OwnerSignatureTTL)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decoding owner signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: owner signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := ethcrypto.SigToPub(OwnerRequestDigest(method, path, body, unixTS), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recovering owner signature: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
