package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/domain/wishlist"
)

// pending collects the notifications produced under the lock; they are
// published after it is released. Consumers order snapshots by Revision.
type pending struct {
	cart     *cart.Snapshot
	wishlist *wishlist.Snapshot
	settled  *cart.MergeOperation
}

func (e *Engine) setStateLocked(next State, p *pending) {
	if !e.state.CanTransitionTo(next) {
		e.logger.Error("unexpected state transition",
			zap.String("from", e.state.String()),
			zap.String("to", next.String()),
		)
	}
	e.logger.Debug("state transition",
		zap.String("from", e.state.String()),
		zap.String("to", next.String()),
	)
	e.state = next
	e.touchCartLocked(p)
}

func (e *Engine) touchCartLocked(p *pending) {
	e.cartRev++
	e.cartAt = time.Now()
	snap := e.cartSnapshotLocked()
	p.cart = &snap
}

func (e *Engine) touchWishlistLocked(p *pending) {
	e.wishRev++
	e.wishAt = time.Now()
	snap := e.wishlistSnapshotLocked()
	p.wishlist = &snap
}

func (e *Engine) clearWishlistLocked(p *pending) {
	if e.wishlist == nil {
		return
	}
	e.wishlist = nil
	e.touchWishlistLocked(p)
}

func (e *Engine) cartSnapshotLocked() cart.Snapshot {
	snap := cart.Snapshot{
		Source:    cart.SourceNone,
		State:     e.state.String(),
		Items:     []cart.LineItem{},
		Revision:  e.cartRev,
		UpdatedAt: e.cartAt,
	}
	switch {
	case e.state.AccountEffective():
		snap.Source = cart.SourceAccount
		snap.Items = cart.Clone(e.account)
	case e.guestEffectiveLocked():
		snap.Source = cart.SourceGuest
		snap.Items = cart.Clone(e.guest)
	}
	return snap
}

func (e *Engine) wishlistSnapshotLocked() wishlist.Snapshot {
	snap := wishlist.EmptySnapshot()
	snap.Revision = e.wishRev
	snap.UpdatedAt = e.wishAt
	if e.wishlist != nil {
		snap.Source = wishlist.SourceAccount
		snap.Items = append([]wishlist.Item(nil), e.wishlist...)
	}
	return snap
}

func (e *Engine) emit(ctx context.Context, p pending) {
	if e.publisher == nil {
		return
	}
	events := make([]shared.DomainEvent, 0, 3)
	if p.cart != nil {
		events = append(events, cart.NewCartChangedEvent(*p.cart))
	}
	if p.wishlist != nil {
		events = append(events, wishlist.NewWishlistChangedEvent(*p.wishlist))
	}
	if p.settled != nil {
		events = append(events, cart.NewMergeSettledEvent(p.settled))
	}
	if len(events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.logger.Warn("failed to publish change notification", zap.Error(err))
	}
}
