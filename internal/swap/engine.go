package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/monerizer/monerizerd/internal/asset"
	"github.com/monerizer/monerizerd/internal/provider"
	"github.com/monerizer/monerizerd/internal/storage"
	"github.com/monerizer/monerizerd/internal/walletrpc"
	"github.com/monerizer/monerizerd/pkg/logging"
)

// ErrUnknownSwap means no swap exists under the requested id.
var ErrUnknownSwap = errors.New("unknown swap id")

// Notifier receives a copy of a swap after every committed change.
type Notifier interface {
	NotifySwap(s *Swap)
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Registry       *Registry
	Providers      *provider.Registry
	Wallet         walletrpc.Client
	SendReserveXMR float64

	// Optional.
	Events   *storage.EventLog
	Notifier Notifier
}

// Engine drives swaps through their lifecycle. Advance is safe to call
// concurrently for the same swap: the creating/created flags, checked
// and set under the registry lock, make leg-2 creation at-most-once.
type Engine struct {
	registry    *Registry
	providers   *provider.Registry
	wallet      walletrpc.Client
	sendReserve float64
	events      *storage.EventLog
	notifier    Notifier
	log         *logging.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewEngine creates a swap engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		registry:    cfg.Registry,
		providers:   cfg.Providers,
		wallet:      cfg.Wallet,
		sendReserve: cfg.SendReserveXMR,
		events:      cfg.Events,
		notifier:    cfg.Notifier,
		log:         logging.GetDefault().Component("engine"),
		now:         time.Now,
	}
}

// Start allocates a subaddress, opens the leg-1 order and registers the
// swap in waiting_deposit. Nothing is persisted when the provider create
// fails.
func (e *Engine) Start(ctx context.Context, req Request) (*Swap, error) {
	p1, ok := e.providers.Get(req.Leg1Provider)
	if !ok {
		return nil, fmt.Errorf("unsupported leg1 provider %q", req.Leg1Provider)
	}
	if req.Leg2Provider == "" {
		for _, name := range e.providers.Names() {
			if name != req.Leg1Provider {
				req.Leg2Provider = name
				break
			}
		}
	}
	if _, ok := e.providers.Get(req.Leg2Provider); !ok {
		return nil, fmt.Errorf("unsupported leg2 provider %q", req.Leg2Provider)
	}

	id := uuid.NewString()
	sub, err := e.wallet.CreateSubaddress(ctx, "swap:"+id)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate subaddress: %w", err)
	}

	order, err := p1.Create(ctx, provider.CreateRequest{
		FromAsset:     req.InAsset,
		FromNetwork:   req.InNetwork,
		ToAsset:       asset.XMR,
		Amount:        req.Amount,
		PayoutAddress: sub.Address,
		RateType:      req.RateType,
		RefundAddress: req.RefundAddress,
	})
	if err != nil {
		return nil, err
	}

	s := &Swap{
		ID:           id,
		CreatedAt:    e.now().UTC(),
		Request:      req,
		Subaddr:      sub.Address,
		SubaddrIndex: sub.Index,
		OurFeeXMR:    req.OurFeeXMR,
		Leg1: Leg1Record{
			Provider:       req.Leg1Provider,
			OrderID:        order.OrderID,
			DepositAddress: order.DepositAddress,
			DepositExtra:   order.DepositExtra,
			Status:         TokenWaitingDeposit,
			ProviderInfo:   order.Raw,
		},
		Leg2: Leg2Record{
			Provider: req.Leg2Provider,
			Status:   "pending",
		},
		Timeline: []string{TokenCreated, TokenWaitingDeposit},
	}
	if err := e.registry.Put(s); err != nil {
		return nil, fmt.Errorf("failed to persist swap: %w", err)
	}

	e.recordEvent(id, TokenWaitingDeposit, "leg1 order "+order.OrderID+" at "+req.Leg1Provider)
	e.notify(s)
	e.log.Info("Swap started",
		"id", id,
		"leg1", req.Leg1Provider,
		"leg2", req.Leg2Provider,
		"in", req.InAsset,
		"out", req.OutAsset)
	return s, nil
}

// Advance moves one swap as far as current conditions allow. It is
// idempotent; transient failures leave the swap retryable on the next
// sweep. All network I/O happens outside the registry lock.
func (e *Engine) Advance(ctx context.Context, id string) (*Swap, error) {
	snap, ok := e.registry.Get(id)
	if !ok {
		return nil, ErrUnknownSwap
	}
	if snap.Terminal() {
		return snap, nil
	}

	// Leg-1 provider view, then the refund and expiry verdicts.
	leg1Info := e.fetchInfo(ctx, snap.Leg1.Provider, snap.Leg1.OrderID)
	var verdict string
	snap, _ = e.registry.Apply(id, func(s *Swap) {
		if leg1Info != nil {
			s.Leg1.ProviderInfo = leg1Info.Raw
			if !s.Refunded {
				s.Leg1.Status = leg1Info.Status
			}
		}
		if s.Terminal() {
			verdict = "terminal"
			return
		}
		if IsRefundStatus(s.Leg1.Status) {
			s.markRefunded()
			verdict = TokenRefunded
			return
		}
		if !s.Leg2.Created && !s.Leg2.Creating {
			lapsed := IsExpiredStatus(s.Leg1.Status)
			aged := e.now().Sub(s.CreatedAt) > expiryAge && IsWaitingStatus(s.Leg1.Status)
			if lapsed || aged {
				s.markExpired()
				verdict = TokenExpired
			}
		}
	})
	if verdict != "" {
		if verdict != "terminal" {
			e.recordEvent(id, verdict, "leg1 status "+snap.Leg1.Status)
			e.notify(snap)
		}
		return snap, nil
	}

	// Wallet-side confirmation is authoritative for "did the user pay".
	// Once leg 2 exists the forward transfer has already drained the
	// wallet, so the deposit math only applies before creation; a created
	// swap goes straight to leg-2 status tracking below.
	if !snap.Leg2.Created && !snap.Leg2.Creating {
		rx := e.wallet.SumReceived(ctx, snap.SubaddrIndex)
		need := rx - snap.OurFeeXMR - e.sendReserve
		if need > 0 {
			unlocked := e.wallet.UnlockedBalance(ctx)
			if unlocked < need {
				snap, _ = e.registry.Apply(id, func(s *Swap) {
					if s.Terminal() || s.Leg2.Created {
						return
					}
					s.appendTimeline(TokenLeg1Funded)
					s.Leg2.Status = TokenAwaitingUnlock
					s.appendTimeline(TokenAwaitingUnlock)
				})
				e.notify(snap)
			} else {
				// At-most-once gate: flags are checked and set under the lock.
				acquired := false
				snap, _ = e.registry.Apply(id, func(s *Swap) {
					if s.Terminal() || s.Leg2.Created || s.Leg2.Creating {
						return
					}
					s.appendTimeline(TokenLeg1Funded)
					s.Leg2.Creating = true
					s.Leg2.Status = "leg2_creating"
					acquired = true
				})
				if acquired {
					e.createAndFund(ctx, id, snap, need)
				}
			}
		}
	}

	// Leg-2 provider view.
	snap, ok = e.registry.Get(id)
	if !ok {
		return nil, ErrUnknownSwap
	}
	if snap.Leg2.Created && snap.Leg2.OrderID != "" {
		if leg2Info := e.fetchInfo(ctx, snap.Leg2.Provider, snap.Leg2.OrderID); leg2Info != nil {
			var entered string
			snap, _ = e.registry.Apply(id, func(s *Swap) {
				s.Leg2.ProviderInfo = leg2Info.Raw
				if s.Terminal() {
					return
				}
				switch {
				case IsRefundStatus(leg2Info.Status):
					s.Leg2.Status = TokenRefunded
					s.appendTimeline(TokenLeg2Refunded)
					entered = TokenLeg2Refunded
				case IsFinishedStatus(leg2Info.Status):
					s.Leg2.Status = "finished"
					s.appendTimeline(TokenComplete)
					entered = TokenComplete
				case IsFailedStatus(leg2Info.Status):
					s.Leg2.Status = TokenFailed
					s.appendTimeline(TokenFailed)
					entered = TokenFailed
				default:
					s.Leg2.Status = leg2Info.Status
				}
			})
			if entered != "" {
				e.recordEvent(id, entered, "leg2 status "+leg2Info.Status)
				e.notify(snap)
			}
		}
	}
	return snap, nil
}

// createAndFund opens the leg-2 order and issues the single wallet
// transfer. The caller holds the creating flag; any failure clears it so
// the next sweep retries.
func (e *Engine) createAndFund(ctx context.Context, id string, snap *Swap, need float64) {
	p2, ok := e.providers.Get(snap.Leg2.Provider)
	if !ok {
		e.failLeg2(id, "leg2_create_error:unknown provider")
		return
	}

	// Refund goes to our own subaddress: a leg-2 refund must return the
	// XMR to us, never to the user.
	order, err := p2.Create(ctx, provider.CreateRequest{
		FromAsset:     asset.XMR,
		ToAsset:       snap.Request.OutAsset,
		ToNetwork:     snap.Request.OutNetwork,
		Amount:        need,
		PayoutAddress: snap.Request.PayoutAddress,
		RateType:      snap.Request.RateType,
		RefundAddress: snap.Subaddr,
	})
	if err != nil {
		e.log.Warn("Leg2 create failed", "id", id, "error", err)
		e.failLeg2(id, fmt.Sprintf("leg2_create_error:%.120s", err.Error()))
		return
	}

	txid, err := e.wallet.Transfer(ctx, order.DepositAddress, need)
	if err != nil {
		e.log.Warn("Wallet send failed", "id", id, "error", err)
		e.registry.Apply(id, func(s *Swap) {
			s.Leg2.Creating = false
			s.Leg2.OrderID = order.OrderID
			s.Leg2.ProviderInfo = order.Raw
			s.Leg2.Status = fmt.Sprintf("leg2_create_error:%.120s", err.Error())
		})
		e.recordEvent(id, "leg2_create_error", err.Error())
		return
	}

	updated, _ := e.registry.Apply(id, func(s *Swap) {
		s.Leg2.OrderID = order.OrderID
		s.Leg2.ProviderInfo = order.Raw
		s.Leg2.Created = true
		s.Leg2.Creating = false
		s.Leg2.Status = "routing"
		s.LastSentTxID = txid
		s.SentXMR = need
		s.appendTimeline(TokenRouting)
	})
	e.recordEvent(id, TokenRouting, fmt.Sprintf("sent %.12f XMR, txid %s", need, txid))
	e.notify(updated)
	e.log.Info("Leg2 funded", "id", id, "amount_xmr", need, "order", order.OrderID)
}

func (e *Engine) failLeg2(id, status string) {
	updated, _ := e.registry.Apply(id, func(s *Swap) {
		s.Leg2.Creating = false
		s.Leg2.Status = status
	})
	e.recordEvent(id, "leg2_create_error", status)
	e.notify(updated)
}

// fetchInfo polls a provider's order status. Failures are swallowed;
// the previous view stays in place.
func (e *Engine) fetchInfo(ctx context.Context, providerName, orderID string) *provider.Info {
	if orderID == "" {
		return nil
	}
	p, ok := e.providers.Get(providerName)
	if !ok {
		return nil
	}
	info, err := p.Info(ctx, orderID)
	if err != nil {
		e.log.Debug("Provider info failed", "provider", providerName, "order", orderID, "error", err)
		return nil
	}
	return info
}

func (e *Engine) recordEvent(id, state, detail string) {
	if e.events == nil {
		return
	}
	if err := e.events.Append(id, state, detail); err != nil {
		e.log.Debug("Failed to append audit event", "id", id, "error", err)
	}
}

func (e *Engine) notify(s *Swap) {
	if e.notifier == nil || s == nil {
		return
	}
	e.notifier.NotifySwap(s)
}
