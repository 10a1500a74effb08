// Package addr canonicalizes on-chain addresses for use as map keys.
//
// Every hot-path cache (watch tiers, dirty set, borrower index, HF
// cache) keys on addresses. go-ethereum's common.Address is already a
// fixed-size [20]byte array, so it is comparable and hashable as-is;
// the only canonicalization needed is at the boundary where an
// address arrives as a string (config, RPC decode, user input).
package addr

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Canon parses a hex address string into its canonical common.Address
// form. Mixed-case or checksummed input is accepted; the returned value
// is always usable directly as a map key.
func Canon(hex string) (common.Address, error) {
	hex = strings.TrimSpace(hex)
	if !common.IsHexAddress(hex) {
		return common.Address{}, ErrInvalidAddress(hex)
	}
	return common.HexToAddress(hex), nil
}

// ErrInvalidAddress reports a malformed address string.
type ErrInvalidAddress string

func (e ErrInvalidAddress) Error() string {
	return "addr: invalid address " + string(e)
}

// Lower returns the lowercase hex form used in logs and YAML output.
func Lower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
