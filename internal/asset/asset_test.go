package asset

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		sym     Symbol
		net     Network
		wantErr bool
	}{
		{BTC, NetBTC, false},
		{ETH, NetETH, false},
		{LTC, NetLTC, false},
		{USDT, NetETH, false},
		{USDT, NetTRX, false},
		{USDC, NetBSC, false},
		{BTC, NetETH, true},
		{USDT, NetBTC, true},
		{XMR, NetBTC, true},
		{Symbol("DOGE"), NetBTC, true},
	}

	for _, c := range cases {
		err := Validate(c.sym, c.net)
		if (err != nil) != c.wantErr {
			t.Errorf("Validate(%s, %s) error = %v, wantErr %v", c.sym, c.net, err, c.wantErr)
		}
	}
}

func TestIsNative(t *testing.T) {
	if !IsNative(BTC) {
		t.Error("BTC should be native")
	}
	if IsNative(USDT) {
		t.Error("USDT should not be native")
	}
}

func TestAtomicRoundTrip(t *testing.T) {
	// Every value representable in 12 decimal digits must survive the
	// round trip exactly.
	for _, n := range []uint64{0, 1, 999, 1_000_000, 300_000_000, AtomicPerXMR, 65 * AtomicPerXMR / 100} {
		got := XMRToAtomic(AtomicToXMR(n))
		if got != n {
			t.Errorf("XMRToAtomic(AtomicToXMR(%d)) = %d", n, got)
		}
	}
}

func TestXMRToAtomic(t *testing.T) {
	if got := XMRToAtomic(0.00030); got != 300_000_000 {
		t.Errorf("XMRToAtomic(0.00030) = %d, want 300000000", got)
	}
	if got := XMRToAtomic(-1); got != 0 {
		t.Errorf("XMRToAtomic(-1) = %d, want 0", got)
	}
	if got := XMRToAtomic(1); got != AtomicPerXMR {
		t.Errorf("XMRToAtomic(1) = %d, want %d", got, uint64(AtomicPerXMR))
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" btc "); got != "BTC" {
		t.Errorf("Normalize(\" btc \") = %q", got)
	}
}
