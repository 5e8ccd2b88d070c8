package alar

import (
	"context"
	"fmt"
)

// localStandIn satisfies RemoteStandIn by forwarding calls to the
// local singleton. It backs Route's fallback-to-local case: when no
// server is known and fallbackToLocal is set, Route returns the local
// singleton wrapped so every method still looks asynchronous to the
// caller, instead of raising Unavailable.
type localStandIn struct {
	moduleName string
	local      *LocalWrapper
}

func newLocalStandIn(moduleName string, local *LocalWrapper) RemoteStandIn {
	return &localStandIn{moduleName: moduleName, local: local}
}

func (l *localStandIn) ServerID() string     { return "" }
func (l *localStandIn) Readiness() Readiness { return Ready }
func (l *localStandIn) SameProcess() bool    { return true }

func (l *localStandIn) Call(ctx context.Context, method string, args ...interface{}) (Task, error) {
	future, err := l.local.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return &futureTask{future: future}, nil
}

// futureTask adapts a *Future (always already resolved, in the local
// case) to the Task interface so same-process and fallback calls look
// identical to remote calls from the caller's point of view.
type futureTask struct {
	future *Future
}

func (t *futureTask) Await(ctx context.Context) (interface{}, error) {
	return t.future.Await(ctx)
}

func (t *futureTask) Next(ctx context.Context, input interface{}) (Step, error) {
	it, ok := t.future.Iterator()
	if !ok {
		v, err := t.future.Await(ctx)
		return Step{Value: v, Done: true}, err
	}
	value, done, err := it.Next(ctx, input)
	return Step{Value: value, Done: done}, err
}

func (t *futureTask) Return(ctx context.Context, input interface{}) (Step, error) {
	it, ok := t.future.Iterator()
	if !ok {
		return Step{Value: input, Done: true}, nil
	}
	value, done, err := it.Return(ctx, input)
	return Step{Value: value, Done: done}, err
}

func (t *futureTask) Throw(ctx context.Context, input interface{}) (Step, error) {
	it, ok := t.future.Iterator()
	if !ok {
		if err, ok := input.(error); ok {
			return Step{Done: true}, err
		}
		return Step{Done: true}, fmt.Errorf("%v", input)
	}
	value, done, err := it.Throw(ctx, input)
	return Step{Value: value, Done: done}, err
}
