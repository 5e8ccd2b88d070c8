package alar

import "context"

// ErrIsIterator is returned by Future.Await (and by a Task's Await) when
// the underlying call produced a streaming iterator; callers should
// drive it with Next/Return/Throw instead.
var ErrIsIterator = errIsIterator

// Iterator is implemented by a value a service method returns when it
// wants to stream results, the Go stand-in for a generator/async
// generator. Next/Return/Throw map directly onto the wire's
// YIELD/RETURN/THROW frames.
type Iterator interface {
	Next(ctx context.Context, input interface{}) (value interface{}, done bool, err error)
	Return(ctx context.Context, input interface{}) (value interface{}, done bool, err error)
	Throw(ctx context.Context, input interface{}) (value interface{}, done bool, err error)
}

// Future is the uniform handle the local-wrapping rule returns from
// every wrapped method call, regardless of whether the
// underlying call was synchronous, already async, or an Iterator. It
// is always awaitable; IsIterator additionally exposes Iterator when
// the wrapped value streams.
type Future struct {
	value    interface{}
	err      error
	iterator Iterator
}

// Await blocks (respecting ctx) until the wrapped call's single result
// is available. For an Iterator-backed Future, Await returns
// ErrIsIterator; callers that expect streaming results should type-assert
// Iterator() instead.
func (f *Future) Await(ctx context.Context) (interface{}, error) {
	if f.iterator != nil {
		return nil, errIsIterator
	}
	return f.value, f.err
}

// Iterator returns the underlying Iterator and true if this Future
// wraps a streaming call.
func (f *Future) Iterator() (Iterator, bool) {
	return f.iterator, f.iterator != nil
}

func resolvedFuture(value interface{}, err error) *Future {
	return &Future{value: value, err: err}
}

func iteratorFuture(it Iterator) *Future {
	return &Future{iterator: it}
}
