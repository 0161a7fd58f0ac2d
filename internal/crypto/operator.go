package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Operator wraps the engine's ECDSA operator key and its derived address.
// The address identifies the engine's custody account at every venue.
type Operator struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewOperator parses a hex private key (no 0x prefix) and derives the
// operator address.
func NewOperator(privateKeyHex string) (*Operator, error) {
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing operator key: %w", err)
	}
	return &Operator{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the operator's derived address.
func (o *Operator) Address() common.Address {
	return o.address
}

// Sign signs a 32-byte digest with the operator key, returning the 65-byte
// [R || S || V] signature gateways expect on withdrawal intents.
func (o *Operator) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, o.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing digest: %w", err)
	}
	return sig, nil
}
