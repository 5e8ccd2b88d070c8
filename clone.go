package alar

import (
	"errors"
	"reflect"
)

var errNoInstanceStrategy = errors.New("alar: module descriptor sets none of GetInstance, NewInstance, or Prototype")

var errIsIterator = errors.New("alar: call produced a streaming iterator, use Iterator() not Await()")

// deepClone produces an independent copy of a prototype value via
// reflection, the Go analogue of a module that exports a plain
// prototype object rather than a class. Unsupported kinds (channels,
// funcs) are copied by reference, matching the shallow fallback a
// structured-clone implementation would take for the same kinds.
func deepClone(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	cloned := deepCloneValue(rv, map[uintptr]reflect.Value{})
	return cloned.Interface()
}

func deepCloneValue(v reflect.Value, seen map[uintptr]reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		ptr := v.Pointer()
		if existing, ok := seen[ptr]; ok {
			return existing
		}
		out := reflect.New(v.Type().Elem())
		seen[ptr] = out
		out.Elem().Set(deepCloneValue(v.Elem(), seen))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v) // unexported fields keep this as-is copy
		for i := 0; i < v.NumField(); i++ {
			f := v.Type().Field(i)
			if f.PkgPath != "" { // unexported: copied as-is above, can't Set individually via reflect
				continue
			}
			out.Field(i).Set(deepCloneValue(v.Field(i), seen))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCloneValue(v.Index(i), seen))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCloneValue(iter.Value(), seen))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCloneValue(v.Index(i), seen))
		}
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCloneValue(v.Elem(), seen))
		return out
	default:
		return v
	}
}
