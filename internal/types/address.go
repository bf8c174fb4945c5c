package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// solanaPublicKeyLength is the decoded size of a Solana account address
const solanaPublicKeyLength = 32

// ValidateAddress checks that a wallet address is well-formed for its chain.
// EVM chains expect a 0x-prefixed 20-byte hex string; Solana expects a
// base58-encoded 32-byte public key.
func ValidateAddress(chain ChainType, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("address is empty")
	}

	switch {
	case chain.IsEVM():
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid %s address: %s", chain, address)
		}
		return nil
	case chain == ChainSolana:
		decoded, err := base58.Decode(address)
		if err != nil {
			return fmt.Errorf("invalid solana address %s: %w", address, err)
		}
		if len(decoded) != solanaPublicKeyLength {
			return fmt.Errorf("invalid solana address %s: decoded length %d", address, len(decoded))
		}
		return nil
	default:
		return fmt.Errorf("unsupported chain type: %q", chain)
	}
}
