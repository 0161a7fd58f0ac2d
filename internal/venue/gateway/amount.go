package gateway

import (
	"fmt"
	"math/big"
)

// ParseAmount converts a gateway decimal string into base units.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("gateway: invalid amount %q", s)
	}
	return v, nil
}

// FormatAmount renders base units as the decimal string the gateways expect.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
