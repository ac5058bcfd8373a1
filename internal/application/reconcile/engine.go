package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/domain/wishlist"
	"github.com/storefront/cartsync/internal/infrastructure/logger"
	"github.com/storefront/cartsync/internal/infrastructure/telemetry"
)

// ErrSuperseded is returned to callers whose reconciliation result was
// discarded because the session changed while it was in flight
var ErrSuperseded = shared.NewDomainError("RECONCILE_SUPERSEDED", "Reconciliation superseded by a newer session change")

// Dependencies are the collaborators of the engine
type Dependencies struct {
	Session    session.Holder
	Identity   session.IdentityGateway
	Carts      cart.AccountCartGateway
	Wishlists  wishlist.Gateway
	GuestCarts cart.GuestCartRepository
}

func (d Dependencies) validate() error {
	switch {
	case d.Session == nil:
		return fmt.Errorf("%w: session holder is required", shared.ErrInvalidInput)
	case d.Identity == nil:
		return fmt.Errorf("%w: identity gateway is required", shared.ErrInvalidInput)
	case d.Carts == nil:
		return fmt.Errorf("%w: cart gateway is required", shared.ErrInvalidInput)
	case d.Wishlists == nil:
		return fmt.Errorf("%w: wishlist gateway is required", shared.ErrInvalidInput)
	case d.GuestCarts == nil:
		return fmt.Errorf("%w: guest cart repository is required", shared.ErrInvalidInput)
	}
	return nil
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPublisher sets where cart.changed and wishlist.changed events go
func WithPublisher(p shared.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// Engine owns the effective cart and wishlist. State is guarded by a mutex
// that is never held across gateway calls. Results of gateway calls are
// committed only while the attempt sequence number they were started with is
// current and the session still holds the same credential.
type Engine struct {
	deps      Dependencies
	logger    *zap.Logger
	metrics   Metrics
	publisher shared.EventPublisher

	group singleflight.Group
	// storeMu serializes read-modify-write cycles on the guest cart store
	storeMu sync.Mutex
	// mergeSlot admits one merge call at a time, whatever the credential
	mergeSlot chan struct{}

	mu          sync.Mutex
	state       State
	initialized bool
	seq         uint64
	guest       []cart.LineItem
	account     []cart.LineItem
	// accountFP is the fingerprint of the credential the account cart belongs to
	accountFP   string
	wishlist    []wishlist.Item
	cartRev     uint64
	cartAt      time.Time
	wishRev     uint64
	wishAt      time.Time
	flightID    uint64
	inflight    map[string]uint64
}

// NewEngine creates a reconciliation engine in the Unstarted state
func NewEngine(deps Dependencies, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		deps:      deps,
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		mergeSlot: make(chan struct{}, 1),
		state:     StateUnstarted,
		guest:     []cart.LineItem{},
		inflight:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current engine state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// EffectiveCart returns the cart currently shown to the shopper
func (e *Engine) EffectiveCart() cart.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cartSnapshotLocked()
}

// EffectiveWishlist returns the wishlist currently shown to the shopper
func (e *Engine) EffectiveWishlist() wishlist.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wishlistSnapshotLocked()
}

// GuestCart returns the guest cart as last read from or written to the local
// store. In MergeFailed it holds the items still waiting to be merged.
func (e *Engine) GuestCart() []cart.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cart.Clone(e.guest)
}

// Initialize establishes the effective cart at application start. It runs
// once; later calls return immediately. The returned error describes why a
// sequence settled in a fallback state and is never fatal.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	e.mu.Unlock()

	guest := e.loadGuest(ctx)
	st := e.deps.Session.State()

	e.mu.Lock()
	e.guest = guest
	if st.TokenPresent {
		e.mu.Unlock()
		_, err := e.reconcile(ctx, "initialize")
		return err
	}

	var p pending
	if e.state == StateUnstarted {
		e.setStateLocked(StateGuestLoaded, &p)
	}
	e.mu.Unlock()
	e.emit(ctx, p)

	e.logger.Info("initialized with guest cart", zap.Int("guest_lines", len(guest)))
	return nil
}

// OnAuthStateChanged reacts to a flip of the session's authenticated flag.
// true runs the reconciliation sequence, joining one already in flight for
// the same credential, and does nothing when the account cart of the current
// credential is already effective. false discards the account cart and
// reloads the guest cart.
func (e *Engine) OnAuthStateChanged(ctx context.Context, authenticated bool) error {
	if !authenticated {
		e.logout(ctx)
		return nil
	}
	if e.settledFor(e.deps.Session.Credential()) {
		e.logger.Debug("account cart already effective for this credential")
		return nil
	}
	_, err := e.reconcile(ctx, "auth_changed")
	return err
}

// Reconcile runs the reconciliation sequence for the current credential
// whatever the state. Use it when the credential was replaced while the
// session stayed authenticated, which flips nothing.
func (e *Engine) Reconcile(ctx context.Context) error {
	_, err := e.reconcile(ctx, "credential_changed")
	return err
}

// MergeGuestIntoAccount fetches the account cart and merges the guest cart
// into it. An empty guest cart skips the merge call. A merge already in
// flight for the current credential is joined instead of repeated. It is
// allowed only while an account session is established.
func (e *Engine) MergeGuestIntoAccount(ctx context.Context) (*cart.MergeOperation, error) {
	token := e.deps.Session.Credential()
	if token == "" {
		return nil, fmt.Errorf("%w: no credential", shared.ErrInvalidCredential)
	}

	e.mu.Lock()
	st, seq := e.state, e.seq
	e.mu.Unlock()
	switch st {
	case StateMerging, StateAccountReady, StateMergeFailed:
	default:
		return nil, fmt.Errorf("%w: cannot merge in state %s", shared.ErrInvalidState, st)
	}

	ctx, log := logger.WithAttempt(ctx, e.logger, seq)
	return e.mergeFlight(ctx, log, seq, session.Fingerprint(token))
}

// AddGuestItem adds a line to the guest cart, summing the quantity into an
// existing line with the same key. It is rejected while the account cart is
// effective.
func (e *Engine) AddGuestItem(ctx context.Context, item cart.LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if st := e.State(); st.AccountEffective() {
		return fmt.Errorf("%w: account cart is effective in state %s", shared.ErrInvalidState, st)
	}

	p, err := e.appendGuest(ctx, item)
	if err != nil {
		return err
	}
	e.emit(ctx, p)

	e.logger.Debug("guest item added",
		zap.String("item", item.Key().String()),
		zap.Int("quantity", item.Quantity),
	)
	return nil
}

func (e *Engine) appendGuest(ctx context.Context, item cart.LineItem) (pending, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	var p pending
	current, err := e.deps.GuestCarts.Load(ctx)
	if err != nil {
		return p, fmt.Errorf("load guest cart: %w", err)
	}
	next := cart.Normalize(append(current, item))
	if err := e.deps.GuestCarts.Save(ctx, next); err != nil {
		return p, fmt.Errorf("save guest cart: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.guest = next
	if e.guestEffectiveLocked() {
		e.touchCartLocked(&p)
	}
	return p, nil
}

func (e *Engine) reconcile(ctx context.Context, trigger string) (*cart.MergeOperation, error) {
	token := e.deps.Session.Credential()
	if token == "" {
		return nil, fmt.Errorf("%w: no credential to reconcile", shared.ErrInvalidCredential)
	}
	fp := session.Fingerprint(token)
	key := "reconcile:" + fp

	v, err, joined := e.group.Do(key, func() (any, error) {
		id := e.track(key)
		defer e.untrack(key, id)
		return e.sequence(ctx, token, fp, trigger)
	})
	if joined {
		e.logger.Debug("joined reconciliation in flight",
			zap.String("trigger", trigger),
			zap.String("fingerprint", fp),
		)
	}
	op, _ := v.(*cart.MergeOperation)
	return op, err
}

// sequence runs identity confirmation, then the merge, then the commit
func (e *Engine) sequence(ctx context.Context, token, fp, trigger string) (*cart.MergeOperation, error) {
	started := time.Now()

	e.mu.Lock()
	e.initialized = true
	e.seq++
	seq := e.seq
	var p pending
	if e.accountFP != fp {
		e.account = nil
		e.accountFP = ""
		e.clearWishlistLocked(&p)
	}
	e.setStateLocked(StateAuthenticating, &p)
	e.mu.Unlock()
	e.emit(ctx, p)

	ctx, log := logger.WithAttempt(ctx, e.logger, seq)
	log = log.With(zap.String("trigger", trigger), zap.String("fingerprint", fp))
	ctx, span := telemetry.StartSpan(ctx, "reconcile.sequence",
		telemetry.WithAttribute(telemetry.SpanAttrAttemptSeq, seq),
		telemetry.WithAttribute(telemetry.SpanAttrCredentialFP, fp),
	)
	defer span.End()

	var op *cart.MergeOperation
	err := e.confirmIdentity(ctx, log, seq, token, fp)
	if err == nil {
		op, err = e.mergeFlight(ctx, log, seq, fp)
	}

	final := e.State()
	e.metrics.RecordSequence(ctx, final.String(), time.Since(started))
	telemetry.SetAttributes(span, telemetry.SpanAttrEngineState, final.String())
	if err != nil {
		telemetry.RecordError(span, err)
	}
	log.Debug("reconciliation finished", zap.String("state", final.String()), zap.Duration("took", time.Since(started)))
	return op, err
}

func (e *Engine) confirmIdentity(ctx context.Context, log *zap.Logger, seq uint64, token, fp string) error {
	st := e.deps.Session.State()
	if st.Authenticated && e.deps.Session.Identity() != nil {
		return nil
	}

	identity, err := e.deps.Identity.Confirm(ctx)
	if err != nil {
		if st.Authenticated && errors.Is(err, shared.ErrNetworkFailure) {
			log.Warn("identity confirmation did not complete, keeping signed-in session", zap.Error(err))
			return nil
		}
		log.Warn("identity confirmation failed, falling back to guest cart", zap.Error(err))
		if errors.Is(err, shared.ErrInvalidCredential) {
			e.metrics.RecordCredentialRejected(ctx)
		}
		if !e.dropCredential(ctx, log, seq, fp) {
			return ErrSuperseded
		}
		return err
	}

	if !e.deps.Session.Confirm(token, *identity) || !e.current(seq, fp) {
		e.metrics.RecordStaleResult(ctx, "confirm")
		log.Info("discarding stale identity confirmation")
		return ErrSuperseded
	}
	log.Debug("identity confirmed", zap.String("user_id", identity.UserID))
	return nil
}

// mergeFlight runs the merge or joins the one in flight. There is a single
// flight for all credentials. A joined flight started under an older sequence
// number is discarded at commit, so the caller runs its own once if it is
// still current, reading the guest cart the earlier merge left behind.
func (e *Engine) mergeFlight(ctx context.Context, log *zap.Logger, seq uint64, fp string) (*cart.MergeOperation, error) {
	const key = "merge"
	run := func() (*cart.MergeOperation, error) {
		v, err, _ := e.group.Do(key, func() (any, error) {
			id := e.track(key)
			defer e.untrack(key, id)
			return e.runMerge(ctx, log, seq, fp)
		})
		op, _ := v.(*cart.MergeOperation)
		return op, err
	}

	op, err := run()
	if errors.Is(err, ErrSuperseded) && e.current(seq, fp) {
		op, err = run()
	}
	return op, err
}

func (e *Engine) runMerge(ctx context.Context, log *zap.Logger, seq uint64, fp string) (*cart.MergeOperation, error) {
	e.mu.Lock()
	if !e.currentLocked(seq, fp) {
		e.mu.Unlock()
		e.metrics.RecordStaleResult(ctx, "merge_start")
		return nil, ErrSuperseded
	}
	var p pending
	if e.state != StateMerging {
		e.setStateLocked(StateMerging, &p)
	}
	var previous []cart.LineItem
	if e.account != nil {
		previous = cart.Clone(e.account)
	}
	e.mu.Unlock()
	e.emit(ctx, p)

	ctx, span := telemetry.StartSpan(ctx, "reconcile.merge")
	defer span.End()

	op := e.sendMerge(ctx, log, previous)
	log = log.With(zap.String("operation_id", op.ID.String()))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrOperationID, op.ID.String(),
		telemetry.SpanAttrGuestLines, len(op.Guest),
		telemetry.SpanAttrOutcome, op.Outcome.String(),
	)
	if op.Err != nil {
		telemetry.RecordError(span, op.Err)
	}
	if errors.Is(op.Err, shared.ErrInvalidCredential) {
		return e.rejectDuringMerge(ctx, log, seq, fp, op)
	}
	e.metrics.RecordMerge(ctx, op.Outcome.String(), op.Duration())

	if !e.commitMerge(ctx, log, seq, fp, op) {
		return op, ErrSuperseded
	}
	e.refreshWishlist(ctx, log, seq, fp)
	return op, op.Err
}

// sendMerge fetches the account cart and sends the guest cart to the merge
// endpoint while holding the merge slot. A rejected credential is reported
// through op.Err with no fallback cart.
func (e *Engine) sendMerge(ctx context.Context, log *zap.Logger, previous []cart.LineItem) *cart.MergeOperation {
	select {
	case e.mergeSlot <- struct{}{}:
	case <-ctx.Done():
		op := cart.NewMergeOperation(e.GuestCart())
		op.Fail(ctx.Err(), previous)
		return op
	}
	defer func() { <-e.mergeSlot }()

	op := e.newMergeOperation(ctx, log)
	log = log.With(zap.String("operation_id", op.ID.String()))

	account, fetchErr := e.deps.Carts.Fetch(ctx)
	if fetchErr == nil {
		op.Account = account
	}

	switch {
	case errors.Is(fetchErr, shared.ErrInvalidCredential):
		op.Fail(fetchErr, nil)

	case len(op.Guest) == 0:
		if fetchErr != nil {
			op.Fail(fetchErr, previous)
		} else {
			op.Succeed(cart.MergeOutcomeSkipped, account)
		}

	default:
		if fetchErr != nil {
			log.Warn("account cart fetch failed, merging anyway", zap.Error(fetchErr))
		}
		merged, mergeErr := e.deps.Carts.Merge(ctx, op.ID.String(), op.Guest)
		switch {
		case mergeErr == nil:
			op.Succeed(cart.MergeOutcomeMerged, merged)
			e.clearMergedGuest(ctx, log, op.Guest)
		case errors.Is(mergeErr, shared.ErrInvalidCredential):
			op.Fail(mergeErr, nil)
		default:
			fallback := previous
			if fetchErr == nil {
				fallback = account
			}
			op.Fail(mergeErr, fallback)
		}
	}
	return op
}

// newMergeOperation snapshots the guest cart for a merge. The idempotency key
// remembered for the same stored lines is reused, so lines a previous merge
// delivered but could not clear are replayed by the backend, not applied again.
func (e *Engine) newMergeOperation(ctx context.Context, log *zap.Logger) *cart.MergeOperation {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	op := cart.NewMergeOperation(e.loadGuest(ctx))
	if len(op.Guest) == 0 {
		return op
	}

	key, err := e.deps.GuestCarts.PendingMergeKey(ctx)
	if err != nil {
		log.Warn("failed to read pending merge key", zap.Error(err))
	}
	if id, parseErr := uuid.Parse(key); key != "" && parseErr == nil {
		op.ID = id
		log.Info("resending guest cart under its earlier merge key", zap.String("operation_id", key))
		return op
	}
	if err := e.deps.GuestCarts.RememberMergeKey(ctx, op.ID.String()); err != nil {
		log.Warn("failed to remember merge key", zap.Error(err))
	}
	return op
}

func (e *Engine) rejectDuringMerge(ctx context.Context, log *zap.Logger, seq uint64, fp string, op *cart.MergeOperation) (*cart.MergeOperation, error) {
	e.metrics.RecordMerge(ctx, op.Outcome.String(), op.Duration())
	e.metrics.RecordCredentialRejected(ctx)
	log.Warn("credential rejected during merge, falling back to guest cart", zap.Error(op.Err))
	if !e.dropCredential(ctx, log, seq, fp) {
		return op, ErrSuperseded
	}
	return op, op.Err
}

// clearMergedGuest removes what was sent from the guest store. Items added
// while the merge call was in flight stay for the next merge. When the store
// cannot be written the lines stay behind with their merge key.
func (e *Engine) clearMergedGuest(ctx context.Context, log *zap.Logger, sent []cart.LineItem) {
	p, err := e.subtractGuest(ctx, log, sent)
	if err != nil {
		log.Error("failed to clear merged guest cart", zap.Error(err))
		return
	}
	e.emit(ctx, p)
}

func (e *Engine) subtractGuest(ctx context.Context, log *zap.Logger, sent []cart.LineItem) (pending, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	var p pending
	current, err := e.deps.GuestCarts.Load(ctx)
	if err != nil {
		log.Warn("failed to re-read guest cart after merge", zap.Error(err))
		current = sent
	}

	remaining := cart.Subtract(current, sent)
	if len(remaining) == 0 {
		err = e.deps.GuestCarts.Clear(ctx)
	} else {
		log.Info("keeping guest items added during merge", zap.Int("lines", len(remaining)))
		err = e.deps.GuestCarts.Save(ctx, remaining)
	}
	if err != nil {
		return p, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.guest = remaining
	if e.state == StateGuestLoaded {
		e.touchCartLocked(&p)
	}
	return p, nil
}

func (e *Engine) commitMerge(ctx context.Context, log *zap.Logger, seq uint64, fp string, op *cart.MergeOperation) bool {
	e.mu.Lock()
	if !e.currentLocked(seq, fp) {
		e.mu.Unlock()
		e.metrics.RecordStaleResult(ctx, "merge")
		log.Info("discarding stale merge result", zap.String("outcome", op.Outcome.String()))
		return false
	}

	p := pending{settled: op}
	e.accountFP = fp
	if op.Outcome == cart.MergeOutcomeFailed {
		switch {
		case op.Result != nil:
			e.account = cart.Clone(op.Result)
		case e.account == nil:
			e.account = []cart.LineItem{}
		}
		e.setStateLocked(StateMergeFailed, &p)
	} else {
		e.account = cart.Clone(op.Result)
		e.setStateLocked(StateAccountReady, &p)
	}
	lines := len(e.account)
	e.mu.Unlock()
	e.emit(ctx, p)

	switch op.Outcome {
	case cart.MergeOutcomeMerged:
		log.Info("guest cart merged into account cart",
			zap.Int("guest_lines", len(op.Guest)),
			zap.Int("account_lines", lines),
		)
	case cart.MergeOutcomeSkipped:
		log.Info("guest cart empty, adopted account cart", zap.Int("account_lines", lines))
	default:
		log.Warn("merge failed, guest cart preserved for retry",
			zap.Int("guest_lines", len(op.Guest)),
			zap.Error(op.Err),
		)
	}
	return true
}

func (e *Engine) refreshWishlist(ctx context.Context, log *zap.Logger, seq uint64, fp string) {
	items, err := e.deps.Wishlists.Fetch(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredential) {
			e.metrics.RecordCredentialRejected(ctx)
			log.Warn("credential rejected fetching wishlist, falling back to guest cart", zap.Error(err))
			e.dropCredential(ctx, log, seq, fp)
			return
		}
		log.Warn("wishlist fetch failed, keeping previous wishlist", zap.Error(err))
		return
	}

	e.mu.Lock()
	if !e.currentLocked(seq, fp) {
		e.mu.Unlock()
		e.metrics.RecordStaleResult(ctx, "wishlist")
		log.Info("discarding stale wishlist")
		return
	}
	var p pending
	e.wishlist = wishlist.Dedupe(items)
	e.touchWishlistLocked(&p)
	e.mu.Unlock()
	e.emit(ctx, p)
}

// dropCredential clears the credential the attempt used and falls back to
// the guest cart. It returns false, doing nothing, when the session already
// holds another credential or none.
func (e *Engine) dropCredential(ctx context.Context, log *zap.Logger, seq uint64, fp string) bool {
	if session.Fingerprint(e.deps.Session.Credential()) != fp {
		return false
	}
	if err := e.deps.Session.Invalidate(ctx); err != nil {
		log.Warn("failed to clear stored credential", zap.Error(err))
	}
	e.enterGuest(ctx, seq)
	return true
}

func (e *Engine) logout(ctx context.Context) {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	for key := range e.inflight {
		e.group.Forget(key)
	}
	clear(e.inflight)

	var p pending
	e.account = nil
	e.accountFP = ""
	e.setStateLocked(StateLoggedOut, &p)
	e.clearWishlistLocked(&p)
	e.mu.Unlock()
	e.emit(ctx, p)

	e.logger.Info("session ended, reverting to guest cart", zap.Uint64("attempt_seq", seq))
	e.enterGuest(ctx, seq)
}

// enterGuest reloads the guest cart and makes it effective
func (e *Engine) enterGuest(ctx context.Context, seq uint64) {
	guest := e.loadGuest(ctx)

	e.mu.Lock()
	if seq != e.seq {
		e.mu.Unlock()
		e.metrics.RecordStaleResult(ctx, "guest")
		return
	}
	var p pending
	e.guest = guest
	if e.state.AccountEffective() || e.state == StateMerging {
		e.account = nil
		e.accountFP = ""
		e.setStateLocked(StateLoggedOut, &p)
		e.clearWishlistLocked(&p)
	}
	e.setStateLocked(StateGuestLoaded, &p)
	e.mu.Unlock()
	e.emit(ctx, p)
}

// loadGuest reads the guest cart, falling back to the last known contents
func (e *Engine) loadGuest(ctx context.Context) []cart.LineItem {
	items, err := e.deps.GuestCarts.Load(ctx)
	if err != nil {
		e.logger.Warn("failed to read guest cart, using last known contents", zap.Error(err))
		e.mu.Lock()
		defer e.mu.Unlock()
		return cart.Clone(e.guest)
	}
	return items
}

func (e *Engine) settledFor(token string) bool {
	if token == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.AccountEffective() && e.accountFP == session.Fingerprint(token)
}

func (e *Engine) current(seq uint64, fp string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked(seq, fp)
}

func (e *Engine) currentLocked(seq uint64, fp string) bool {
	return seq == e.seq && session.Fingerprint(e.deps.Session.Credential()) == fp
}

func (e *Engine) guestEffectiveLocked() bool {
	switch e.state {
	case StateGuestLoaded, StateAuthenticating, StateMerging:
		return true
	default:
		return false
	}
}

func (e *Engine) track(key string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flightID++
	e.inflight[key] = e.flightID
	return e.flightID
}

func (e *Engine) untrack(key string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[key] == id {
		delete(e.inflight, key)
	}
}
