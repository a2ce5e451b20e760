// Package swap holds the central swap entity and the state machine that
// drives it: deposit watching, the at-most-once leg-2 creation, and the
// wallet transfer that links the two provider legs.
package swap

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/monerizer/monerizerd/internal/asset"
)

// Timeline tokens. The timeline is an ordered, deduplicated trace of the
// states a swap has passed through.
const (
	TokenCreated        = "created"
	TokenWaitingDeposit = "waiting_deposit"
	TokenLeg1Funded     = "leg1_funded"
	TokenAwaitingUnlock = "awaiting_wallet_unlock"
	TokenRouting        = "routing_xmr_to_leg2"
	TokenComplete       = "complete"
	TokenRefunded       = "refunded"
	TokenLeg2Refunded   = "leg2_refunded"
	TokenExpired        = "expired"
	TokenFailed         = "failed"
)

// Buckets summarize a swap for the admin listing.
const (
	BucketExpired  = "expired"
	BucketRefunded = "refunded"
	BucketFailed   = "failed"
	BucketFinished = "finished"
	BucketActive   = "active"
)

// expiryAge is how long a swap may sit unpaid before it is expired.
const expiryAge = 2 * time.Hour

// Request is the user's original start request, persisted with the swap.
type Request struct {
	InAsset       asset.Symbol   `json:"in_asset"`
	InNetwork     asset.Network  `json:"in_network"`
	Amount        float64        `json:"amount"`
	OutAsset      asset.Symbol   `json:"out_asset"`
	OutNetwork    asset.Network  `json:"out_network"`
	RateType      asset.RateType `json:"rate_type"`
	Leg1Provider  string         `json:"leg1_provider"`
	Leg2Provider  string         `json:"leg2_provider"`
	PayoutAddress string         `json:"payout_address"`
	RefundAddress string         `json:"refund_address,omitempty"`
	OurFeeXMR     float64        `json:"our_fee_xmr"`

	// ProviderSpreadXMR is the leg-1 spread versus mid-market from the
	// quote this swap was started against, kept for admin reporting.
	ProviderSpreadXMR float64 `json:"provider_spread_xmr,omitempty"`
}

// Leg1Record tracks the user-facing inbound leg.
type Leg1Record struct {
	Provider       string          `json:"provider"`
	OrderID        string          `json:"tx_id"`
	DepositAddress string          `json:"deposit_address"`
	DepositExtra   string          `json:"deposit_extra,omitempty"`
	Status         string          `json:"status"`
	ProviderInfo   json.RawMessage `json:"provider_info,omitempty"`
}

// Leg2Record tracks the outbound leg. Creating and Created together
// guard the single wallet transfer a swap may ever make.
type Leg2Record struct {
	Provider     string          `json:"provider"`
	Creating     bool            `json:"creating"`
	Created      bool            `json:"created"`
	OrderID      string          `json:"tx_id"`
	Status       string          `json:"status"`
	ProviderInfo json.RawMessage `json:"provider_info,omitempty"`
}

// Swap is the central entity. Mutated only under the registry lock;
// never deleted, terminal swaps are retained for audit.
type Swap struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Request      Request    `json:"req"`
	Subaddr      string     `json:"subaddr"`
	SubaddrIndex uint64     `json:"subaddr_index"`
	OurFeeXMR    float64    `json:"our_fee_xmr"`
	Leg1         Leg1Record `json:"leg1"`
	Leg2         Leg2Record `json:"leg2"`
	LastSentTxID string     `json:"last_sent_txid,omitempty"`
	SentXMR      float64    `json:"sent_xmr,omitempty"`
	Timeline     []string   `json:"timeline"`
	Expired      bool       `json:"expired"`
	Refunded     bool       `json:"refunded"`
}

// Clone deep-copies a swap so callers can work outside the registry lock.
func (s *Swap) Clone() *Swap {
	c := *s
	c.Timeline = append([]string(nil), s.Timeline...)
	c.Leg1.ProviderInfo = append(json.RawMessage(nil), s.Leg1.ProviderInfo...)
	c.Leg2.ProviderInfo = append(json.RawMessage(nil), s.Leg2.ProviderInfo...)
	return &c
}

// appendTimeline records a state token, skipping immediate repeats.
func (s *Swap) appendTimeline(token string) {
	if n := len(s.Timeline); n > 0 && s.Timeline[n-1] == token {
		return
	}
	s.Timeline = append(s.Timeline, token)
}

// markRefunded flips the terminal-sticky refunded flag.
func (s *Swap) markRefunded() {
	s.Refunded = true
	s.Leg1.Status = TokenRefunded
	s.appendTimeline(TokenRefunded)
}

// markExpired flips the terminal-sticky expired flag.
func (s *Swap) markExpired() {
	s.Expired = true
	s.appendTimeline(TokenExpired)
}

// Terminal reports whether the swap can never advance again.
func (s *Swap) Terminal() bool {
	if s.Expired || s.Refunded {
		return true
	}
	switch s.Leg2.Status {
	case "finished", TokenFailed, TokenRefunded:
		return true
	}
	return false
}

// Bucket classifies a swap for the admin listing, most severe first.
func (s *Swap) Bucket() string {
	switch {
	case s.Expired:
		return BucketExpired
	case s.Refunded, s.Leg2.Status == TokenRefunded:
		return BucketRefunded
	case strings.Contains(s.Leg2.Status, "error") || s.Leg2.Status == TokenFailed:
		return BucketFailed
	case IsFinishedStatus(s.Leg2.Status):
		return BucketFinished
	default:
		return BucketActive
	}
}

// compactTimeline removes consecutive duplicate tokens.
func compactTimeline(timeline []string) []string {
	if len(timeline) < 2 {
		return timeline
	}
	out := timeline[:1]
	for _, t := range timeline[1:] {
		if out[len(out)-1] != t {
			out = append(out, t)
		}
	}
	return out
}

// Provider status vocabularies. Providers phrase the same state many
// ways; matching is by substring over lower-cased status text.

var refundTokens = []string{"refund", "returned", "sent back", "reimbursed"}

// "unpaid" is deliberately absent here: it also means "still waiting",
// so it only expires a swap through the age-gated waiting check.
var expiredTokens = []string{"expired", "canceled", "cancelled", "timeout", "timed out"}

var waitingTokens = []string{"waiting", "unpaid", "no payment", "await", "new", "pending"}

var finishedTokens = []string{"finished", "completed", "done"}

var failedTokens = []string{"error", "failed"}

func statusContains(status string, tokens []string) bool {
	status = strings.ToLower(status)
	for _, t := range tokens {
		if strings.Contains(status, t) {
			return true
		}
	}
	return false
}

// IsRefundStatus reports whether a provider says it refunded the user.
func IsRefundStatus(status string) bool {
	return statusContains(status, refundTokens)
}

// IsExpiredStatus reports whether a provider says the order lapsed.
func IsExpiredStatus(status string) bool {
	return statusContains(status, expiredTokens)
}

// IsWaitingStatus reports whether a provider is still waiting on a
// deposit. The empty string counts: no info yet means still waiting.
func IsWaitingStatus(status string) bool {
	if strings.TrimSpace(status) == "" {
		return true
	}
	return statusContains(status, waitingTokens)
}

// IsFinishedStatus reports whether a provider says it paid out.
func IsFinishedStatus(status string) bool {
	return statusContains(status, finishedTokens)
}

// IsFailedStatus reports whether a provider reports a hard failure.
func IsFailedStatus(status string) bool {
	return statusContains(status, failedTokens)
}
