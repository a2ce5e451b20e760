// Package asset defines the closed set of swappable assets and networks.
// XMR is the distinguished interposition asset: it is never offered as an
// input or output and never carries a network tag.
package asset

import (
	"fmt"
	"math"
	"strings"
)

// Symbol identifies a swappable asset.
type Symbol string

// Supported input/output assets.
const (
	BTC  Symbol = "BTC"
	ETH  Symbol = "ETH"
	USDT Symbol = "USDT"
	USDC Symbol = "USDC"
	LTC  Symbol = "LTC"

	// XMR is internal only; it never appears in a QuoteRequest.
	XMR Symbol = "XMR"
)

// Network identifies the chain an asset travels on.
type Network string

// Supported networks.
const (
	NetBTC Network = "BTC"
	NetETH Network = "ETH"
	NetTRX Network = "TRX"
	NetBSC Network = "BSC"
	NetLTC Network = "LTC"
)

// Info describes a supported asset.
type Info struct {
	Symbol   Symbol
	Name     string
	Native   bool      // native coin (network implied by the symbol)
	Networks []Network // valid network tags
}

// Supported defines every asset a user may swap in or out of.
var Supported = map[Symbol]Info{
	BTC:  {Symbol: BTC, Name: "Bitcoin", Native: true, Networks: []Network{NetBTC}},
	ETH:  {Symbol: ETH, Name: "Ethereum", Native: true, Networks: []Network{NetETH}},
	LTC:  {Symbol: LTC, Name: "Litecoin", Native: true, Networks: []Network{NetLTC}},
	USDT: {Symbol: USDT, Name: "Tether", Networks: []Network{NetETH, NetTRX, NetBSC}},
	USDC: {Symbol: USDC, Name: "USD Coin", Networks: []Network{NetETH, NetTRX, NetBSC}},
}

// IsNative returns true for coins whose symbol implies the network.
func IsNative(s Symbol) bool {
	info, ok := Supported[s]
	return ok && info.Native
}

// Validate checks an (asset, network) pair.
// XMR is rejected: it is internal and never user-selectable.
func Validate(sym Symbol, net Network) error {
	info, ok := Supported[sym]
	if !ok {
		return fmt.Errorf("unsupported asset %q", sym)
	}
	for _, n := range info.Networks {
		if n == net {
			return nil
		}
	}
	return fmt.Errorf("asset %s does not travel on network %q", sym, net)
}

// Normalize upper-cases a raw symbol or network string.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// RateType selects floating or fixed-rate quoting.
type RateType string

const (
	RateFloat RateType = "float"
	RateFixed RateType = "fixed"
)

// ValidRateType reports whether s is a recognized rate type.
func ValidRateType(s RateType) bool {
	return s == RateFloat || s == RateFixed
}

// Monero amounts on the wallet RPC wire are integer atomic units
// (piconero); 1 XMR = 10^12 atomic units.
const AtomicPerXMR = 1_000_000_000_000

// XMRToAtomic converts an XMR amount to atomic units, rounding to the
// nearest unit.
func XMRToAtomic(x float64) uint64 {
	if x <= 0 {
		return 0
	}
	return uint64(math.Round(x * AtomicPerXMR))
}

// AtomicToXMR converts atomic units to an XMR amount.
func AtomicToXMR(n uint64) float64 {
	return float64(n) / AtomicPerXMR
}
