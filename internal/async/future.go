// Package async runs facade calls off the caller's goroutine and hands back
// a handle that completes with the call's result.
package async

import "context"

// Future is the pending result of a call started with Go.
type Future[T any] struct {
	done   chan struct{}
	value  T
	err    error
	cancel context.CancelFunc
}

// Go starts fn on its own goroutine. fn receives a context derived from ctx
// that is canceled by Cancel, so a caller's deadline bounds the whole call.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	callCtx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		defer cancel()
		f.value, f.err = fn(callCtx)
	}()
	return f
}

// Resolved returns an already completed future.
func Resolved[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), value: value, err: err, cancel: func() {}}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the call completes or ctx is done. Abandoning a wait
// does not cancel the call; use Cancel for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel aborts the in-flight call.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// AwaitAll waits for every future and returns their results in order.
func AwaitAll[T any](ctx context.Context, futures ...*Future[T]) ([]T, []error) {
	values := make([]T, len(futures))
	errs := make([]error, len(futures))
	for i, f := range futures {
		values[i], errs[i] = f.Await(ctx)
	}
	return values, errs
}
