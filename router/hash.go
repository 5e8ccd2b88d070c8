// Package router implements the route-hashing and server-selection
// rules used by the module-proxy router.
package router

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"runtime"
	"sort"
	"strconv"
)

// Hash computes a stable, deterministic hash of a route value's
// logical structure:
//
//   - nil: 0
//   - strings/symbols-as-strings/bigints: hash of the canonical string form
//   - numbers/bools: the numeric value itself
//   - functions: hash of their name (Go has no function "source" to hash)
//   - objects (structs, maps, slices, pointers), including nested ones:
//     a canonical token built from sorted key paths, with a visited set
//     guarding against cycles
func Hash(route interface{}) uint64 {
	if route == nil {
		return 0
	}
	v := reflect.ValueOf(route)
	return hashValue(v, map[uintptr]bool{})
}

func hashValue(v reflect.Value, visited map[uintptr]bool) uint64 {
	switch v.Kind() {
	case reflect.Invalid:
		return 0
	case reflect.String:
		return hashString(v.String())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return uint64(v.Float())
	case reflect.Func:
		name := runtimeFuncName(v)
		return hashString(name)
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return hashString("<cycle>")
		}
		visited[ptr] = true
		return hashValue(v.Elem(), visited)
	case reflect.Slice, reflect.Array:
		h := fnv.New64a()
		for i := 0; i < v.Len(); i++ {
			writeUint64(h, hashValue(v.Index(i), visited))
		}
		return h.Sum64()
	case reflect.Map:
		keys := make([]string, 0, v.Len())
		byKey := map[string]reflect.Value{}
		iter := v.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			byKey[k] = iter.Value()
		}
		sort.Strings(keys)
		h := fnv.New64a()
		for _, k := range keys {
			h.Write([]byte(k))
			writeUint64(h, hashValue(byKey[k], visited))
		}
		return h.Sum64()
	case reflect.Struct:
		t := v.Type()
		keys := make([]string, 0, v.NumField())
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).PkgPath == "" { // exported only
				keys = append(keys, t.Field(i).Name)
			}
		}
		sort.Strings(keys)
		h := fnv.New64a()
		for _, k := range keys {
			h.Write([]byte(k))
			writeUint64(h, hashValue(v.FieldByName(k), visited))
		}
		return h.Sum64()
	default:
		return hashString(fmt.Sprint(v.Interface()))
	}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func writeUint64(h interface{ Write([]byte) (int, error) }, n uint64) {
	h.Write([]byte(strconv.FormatUint(n, 16)))
}

func runtimeFuncName(v reflect.Value) string {
	p := v.Pointer()
	if f := runtime.FuncForPC(p); f != nil {
		return f.Name()
	}
	return strconv.FormatUint(uint64(p), 16)
}
