package reconcile

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/domain/session"
	"github.com/storefront/cartsync/internal/domain/shared"
)

// Reconciler is the part of the engine the initializer drives
type Reconciler interface {
	Initialize(ctx context.Context) error
	OnAuthStateChanged(ctx context.Context, authenticated bool) error
}

// Initializer starts reconciliation at application start and forwards every
// flip of the authenticated flag to the engine. It never blocks the caller;
// work runs on goroutines that Wait joins.
type Initializer struct {
	engine  Reconciler
	holder  session.Holder
	logger  *zap.Logger
	startMu sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
}

// NewInitializer creates an initializer for engine observing holder
func NewInitializer(engine Reconciler, holder session.Holder, logger *zap.Logger) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initializer{
		engine: engine,
		holder: holder,
		logger: logger,
	}
}

// Start subscribes to session changes and runs Initialize in the background.
// Only the first call has an effect.
func (i *Initializer) Start(ctx context.Context) {
	i.startMu.Lock()
	defer i.startMu.Unlock()
	if i.started {
		return
	}
	i.started = true
	i.ctx, i.cancel = context.WithCancel(ctx)

	// Subscribe first so a login racing with Initialize is not missed
	i.unsub = i.holder.Subscribe(func(change session.Change) {
		if !change.AuthFlipped() {
			return
		}
		authenticated := change.Current.Authenticated
		i.spawn("auth_changed", func(ctx context.Context) error {
			return i.engine.OnAuthStateChanged(ctx, authenticated)
		})
	})

	i.spawn("initialize", i.engine.Initialize)
}

// spawn runs fn on a goroutine tracked by Wait. Observer callbacks run on the
// goroutine that changed the session, which may be inside a reconciliation.
func (i *Initializer) spawn(name string, fn func(ctx context.Context) error) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := fn(i.ctx); err != nil {
			i.logResult(name, err)
		}
	}()
}

func (i *Initializer) logResult(name string, err error) {
	switch {
	case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		i.logger.Debug("reconciliation superseded", zap.String("trigger", name), zap.Error(err))
	case errors.Is(err, shared.ErrInvalidCredential):
		i.logger.Info("stored credential rejected, continuing as guest", zap.String("trigger", name))
	default:
		i.logger.Warn("reconciliation settled in fallback state", zap.String("trigger", name), zap.Error(err))
	}
}

// Wait blocks until all background reconciliation work has finished
func (i *Initializer) Wait() {
	i.wg.Wait()
}

// Stop unsubscribes from session changes, cancels background work and waits
// for it to finish
func (i *Initializer) Stop() {
	i.startMu.Lock()
	unsub, cancel := i.unsub, i.cancel
	i.unsub = nil
	i.startMu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	i.wg.Wait()
}
