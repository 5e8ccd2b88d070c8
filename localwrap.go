package alar

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/hyurl/alar/rpcerr"
)

// LocalWrapper memoizes the async wrapper around a local singleton's
// methods the first time each is used. Non-function properties pass
// through unchanged via Get.
type LocalWrapper struct {
	instance interface{}
	value    reflect.Value

	mu      sync.Mutex
	wrapped map[string]bool // methods already validated/"memoized"
}

// WrapLocal builds a LocalWrapper around a constructed singleton.
func WrapLocal(instance interface{}) *LocalWrapper {
	return &LocalWrapper{
		instance: instance,
		value:    reflect.ValueOf(instance),
		wrapped:  map[string]bool{},
	}
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// Call invokes method on the wrapped singleton and normalizes its
// result into a *Future:
//   - a method returning (Iterator) or (Iterator, error) yields an
//     iterator-backed Future;
//   - any other method's return values are collected and yield an
//     already-resolved Future.
//
// If method's first parameter is context.Context, ctx is passed
// through. In either case ctx.Err() is checked once before the
// (synchronous) call is made; a cancelled ctx skips the call.
func (w *LocalWrapper) Call(ctx context.Context, method string, args ...interface{}) (*Future, error) {
	m := w.value.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %T has no method %q", rpcerr.ErrNoSuchMethod, w.instance, method)
	}
	w.mu.Lock()
	w.wrapped[method] = true
	w.mu.Unlock()

	in := make([]reflect.Value, 0, len(args)+1)
	mt := m.Type()
	argOffset := 0
	if mt.NumIn() > 0 && mt.In(0).Implements(ctxType) {
		in = append(in, reflect.ValueOf(ctx))
		argOffset = 1
	}
	for i, a := range args {
		if i+argOffset >= mt.NumIn() {
			break
		}
		in = append(in, coerceArg(a, mt.In(i+argOffset)))
	}

	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	out := m.Call(in)
	return wrapResults(out)
}

// coerceArg adapts a dynamically-typed argument (as decoded off the
// wire, or passed by a same-process caller) to the method's declared
// parameter type, the way a dynamic-language call site would.
func coerceArg(a interface{}, want reflect.Type) reflect.Value {
	if a == nil {
		return reflect.Zero(want)
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(want) {
		return v
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want)
	}
	return v
}

func wrapResults(out []reflect.Value) (*Future, error) {
	var value interface{}
	var callErr error
	var it Iterator
	errType := reflect.TypeOf((*error)(nil)).Elem()

	for _, rv := range out {
		if rv.Kind() == reflect.Interface && !rv.IsNil() {
			if asIt, ok := rv.Interface().(Iterator); ok {
				it = asIt
				continue
			}
		}
		if rv.Kind() == reflect.Interface && rv.Type().Implements(errType) {
			if !rv.IsNil() {
				callErr = rv.Interface().(error)
			}
			continue
		}
		if e, ok := rv.Interface().(error); ok {
			callErr = e
			continue
		}
		value = rv.Interface()
	}

	if it != nil {
		return iteratorFuture(it), nil
	}
	return resolvedFuture(value, callErr), nil
}

// Instance returns the wrapped singleton itself, for callers that need
// to type-assert it against a lifecycle interface (Initializer,
// Destroyer).
func (w *LocalWrapper) Instance() interface{} { return w.instance }

// Get returns a non-function property unchanged, passing it through
// for the local-singleton proxy.
func (w *LocalWrapper) Get(field string) (interface{}, bool) {
	fv := w.value
	for fv.Kind() == reflect.Ptr {
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.Struct {
		return nil, false
	}
	f := fv.FieldByName(field)
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}
