package redemption

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pointsledger/core/bank"
)

// RateDenominator is the fixed-point scale of TokenInfo.Rate: a rate of
// 1e18 converts one point into one unit of the asset.
var RateDenominator = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Vault is the module's custody address. Escrowed balances live here between
// token registration and claim or sweep.
var Vault = vaultAddress()

func vaultAddress() [20]byte {
	digest := ethcrypto.Keccak256([]byte("pointsledger/module-vault"))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// RedemptionEvent is one redemption campaign. At most one event is active at
// a time; creating a new event deactivates the previous current one.
type RedemptionEvent struct {
	ID             uint64
	Active         bool
	ScheduledStart int64
	MinPerAddress  *big.Int
	MaxPerAddress  *big.Int
	CreatedAt      int64
}

// Clone returns a deep copy of the event.
func (ev *RedemptionEvent) Clone() *RedemptionEvent {
	if ev == nil {
		return nil
	}
	clone := *ev
	if ev.MinPerAddress != nil {
		clone.MinPerAddress = new(big.Int).Set(ev.MinPerAddress)
	}
	if ev.MaxPerAddress != nil {
		clone.MaxPerAddress = new(big.Int).Set(ev.MaxPerAddress)
	}
	return &clone
}

// TokenInfo is the per-event supply record for one escrowed asset. Total is
// immutable after registration; Remaining only ever decreases. A non-nil Rate
// switches the token into points mode where the released amount is derived
// from the claim's points value.
type TokenInfo struct {
	EventID   uint64
	Key       uint64
	Asset     bank.Asset
	Total     *big.Int
	Remaining *big.Int
	Rate      *big.Int
	AddedAt   int64
}

// Clone returns a deep copy of the token record.
func (t *TokenInfo) Clone() *TokenInfo {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Total != nil {
		clone.Total = new(big.Int).Set(t.Total)
	} else {
		clone.Total = big.NewInt(0)
	}
	if t.Remaining != nil {
		clone.Remaining = new(big.Int).Set(t.Remaining)
	} else {
		clone.Remaining = big.NewInt(0)
	}
	if t.Rate != nil {
		clone.Rate = new(big.Int).Set(t.Rate)
	}
	return &clone
}

// PointsMode reports whether claims against this token are parameterized by
// points rather than a raw amount.
func (t *TokenInfo) PointsMode() bool {
	return t != nil && t.Rate != nil && t.Rate.Sign() > 0
}

// AmountForPoints converts a points value into the released asset amount
// using the token's fixed-point rate.
func (t *TokenInfo) AmountForPoints(points *big.Int) *big.Int {
	if !t.PointsMode() || points == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(points, t.Rate)
	return out.Quo(out, RateDenominator)
}
