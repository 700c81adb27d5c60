package docchat

import "context"

// ReconciliationPolicy decides, once a turn settles, how optimistic cache
// entries are replaced with authoritative data.
type ReconciliationPolicy interface {
	Reconcile(ctx context.Context, store MessageStore, key CacheKey, outcome TurnOutcome) error
}

// ReconcileFunc adapts a function to ReconciliationPolicy.
type ReconcileFunc func(ctx context.Context, store MessageStore, key CacheKey, outcome TurnOutcome) error

// Reconcile calls f.
func (f ReconcileFunc) Reconcile(ctx context.Context, store MessageStore, key CacheKey, outcome TurnOutcome) error {
	return f(ctx, store, key, outcome)
}

// InvalidatePolicy invalidates the entry regardless of outcome, so the
// placeholder and locally generated ids never outlive the turn.
type InvalidatePolicy struct{}

// Reconcile invalidates key.
func (InvalidatePolicy) Reconcile(ctx context.Context, store MessageStore, key CacheKey, _ TurnOutcome) error {
	return store.Invalidate(ctx, key)
}

var (
	_ ReconciliationPolicy = InvalidatePolicy{}
	_ ReconciliationPolicy = ReconcileFunc(nil)
)
