package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
type Registry struct {
	mandateHooks  []MandateHook
	stepUpHooks   []StepUpHook
	checkoutHooks []CheckoutHook
	requestHooks  []RequestHook
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterMandateHook adds a mandate hook to the registry.
func (r *Registry) RegisterMandateHook(hook MandateHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mandateHooks = append(r.mandateHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered mandate hook")
}

// RegisterStepUpHook adds a step-up hook to the registry.
func (r *Registry) RegisterStepUpHook(hook StepUpHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepUpHooks = append(r.stepUpHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered step-up hook")
}

// RegisterCheckoutHook adds a checkout hook to the registry.
func (r *Registry) RegisterCheckoutHook(hook CheckoutHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkoutHooks = append(r.checkoutHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered checkout hook")
}

// RegisterRequestHook adds a request hook to the registry.
func (r *Registry) RegisterRequestHook(hook RequestHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestHooks = append(r.requestHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered request hook")
}

// ===============================================
// Mandate Hook Dispatchers
// ===============================================

// EmitMandateAdjudicated dispatches the event to all mandate hooks.
func (r *Registry) EmitMandateAdjudicated(ctx context.Context, event MandateAdjudicatedEvent) {
	r.mu.RLock()
	hooks := r.mandateHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnMandateAdjudicated", hook.Name())
			hook.OnMandateAdjudicated(ctx, event)
		}()
	}
}

// ===============================================
// Step-Up Hook Dispatchers
// ===============================================

// EmitChallengeIssued dispatches the event to all step-up hooks.
func (r *Registry) EmitChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	r.mu.RLock()
	hooks := r.stepUpHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnChallengeIssued", hook.Name())
			hook.OnChallengeIssued(ctx, event)
		}()
	}
}

// EmitChallengeResolved dispatches the event to all step-up hooks.
func (r *Registry) EmitChallengeResolved(ctx context.Context, event ChallengeResolvedEvent) {
	r.mu.RLock()
	hooks := r.stepUpHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnChallengeResolved", hook.Name())
			hook.OnChallengeResolved(ctx, event)
		}()
	}
}

// ===============================================
// Checkout Hook Dispatchers
// ===============================================

// EmitSessionCompleted dispatches the event to all checkout hooks.
func (r *Registry) EmitSessionCompleted(ctx context.Context, event SessionCompletedEvent) {
	r.mu.RLock()
	hooks := r.checkoutHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSessionCompleted", hook.Name())
			hook.OnSessionCompleted(ctx, event)
		}()
	}
}

// ===============================================
// Request Hook Dispatchers
// ===============================================

// EmitRequestRecorded dispatches the event to all request hooks.
func (r *Registry) EmitRequestRecorded(ctx context.Context, event RequestRecordedEvent) {
	r.mu.RLock()
	hooks := r.requestHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRequestRecorded", hook.Name())
			hook.OnRequestRecorded(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
