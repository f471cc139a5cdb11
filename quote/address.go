package quote

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// poolTemplateTag identifies the pool creation template. Its hash is folded
// into every derived pool address, so two registries built from different
// templates can never collide on the same pair.
const poolTemplateTag = "amm-engine-go/pool@v1"

var poolTemplateHash = crypto.Keccak256([]byte(poolTemplateTag))

// PoolAddress derives the canonical pool address for a pair deterministically
// from the registry identity, the canonical pair and the fixed template hash:
//
//	keccak256(0xff ++ registry ++ keccak256(token0 ++ token1) ++ templateHash)[12:]
//
// The registry assigns exactly this address at creation, so callers can locate
// a pool, existing or not, without a registry lookup.
func PoolAddress(registry, token0, token1 common.Address) common.Address {
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(registry, salt, poolTemplateHash)
}

// PairAddress is the order-insensitive form of PoolAddress; it canonicalizes
// the pair before derivation.
func PairAddress(registry, x, y common.Address) (common.Address, error) {
	token0, token1, err := Canonicalize(x, y)
	if err != nil {
		return common.Address{}, err
	}
	return PoolAddress(registry, token0, token1), nil
}
