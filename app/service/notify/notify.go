package notify

import "context"

// Notifier receives progress text at fixed checkpoints of a generation
// run. It is purely informational: the loop never branches on it, and
// any error it returns is swallowed by the caller.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Func adapts a plain synchronous callback. Callers that render status
// updates without needing the context or reporting failures pass one of
// these directly.
type Func func(text string)

func (f Func) Notify(_ context.Context, text string) error {
	f(text)
	return nil
}

// ContextFunc adapts a context-aware callback, e.g. one editing a chat
// status message over the network.
type ContextFunc func(ctx context.Context, text string) error

func (f ContextFunc) Notify(ctx context.Context, text string) error {
	return f(ctx, text)
}
