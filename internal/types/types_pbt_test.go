package types

import (
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mr-tron/base58"
)

func TestAddressValidationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any 20-byte hex string is a valid EVM address", prop.ForAll(
		func(raw []byte) bool {
			return ValidateAddress(ChainEthereum, "0x"+hex.EncodeToString(raw)) == nil
		},
		gen.SliceOfN(20, gen.UInt8()),
	))

	properties.Property("any base58-encoded 32-byte key is a valid solana address", prop.ForAll(
		func(raw []byte) bool {
			return ValidateAddress(ChainSolana, base58.Encode(raw)) == nil
		},
		gen.SliceOfN(32, gen.UInt8()),
	))

	properties.Property("base58 keys of other lengths are rejected", prop.ForAll(
		func(raw []byte) bool {
			if len(raw) == solanaPublicKeyLength || len(raw) == 0 {
				return true
			}
			return ValidateAddress(ChainSolana, base58.Encode(raw)) != nil
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
