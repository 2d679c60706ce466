package bag

import (
	"reflect"
)

// Cloner is implemented by value types that know how to deep-copy
// themselves. Bags prefer it over the generic reflective copy.
type Cloner[T any] interface {
	Clone() T
}

// cloneValue returns a deep copy of v. Maps, slices, arrays, pointers,
// interfaces and exported struct fields are copied recursively. Unexported
// struct fields, channels and funcs are copied shallowly.
func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	src := reflect.ValueOf(&v).Elem()
	dst := reflect.New(src.Type()).Elem()
	deepCopy(dst, src, make(map[visit]reflect.Value))
	return *dst.Addr().Interface().(*T)
}

func cloneMap[T any](m map[string]T) map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// visit identifies an already copied pointer or map so shared and cyclic
// references keep their shape in the copy.
type visit struct {
	ptr uintptr
	typ reflect.Type
}

func deepCopy(dst, src reflect.Value, seen map[visit]reflect.Value) {
	switch src.Kind() {
	case reflect.Pointer:
		if src.IsNil() {
			return
		}
		key := visit{src.Pointer(), src.Type()}
		if p, ok := seen[key]; ok {
			dst.Set(p)
			return
		}
		p := reflect.New(src.Type().Elem())
		seen[key] = p
		deepCopy(p.Elem(), src.Elem(), seen)
		dst.Set(p)

	case reflect.Interface:
		if src.IsNil() {
			return
		}
		inner := src.Elem()
		c := reflect.New(inner.Type()).Elem()
		deepCopy(c, inner, seen)
		dst.Set(c)

	case reflect.Map:
		if src.IsNil() {
			return
		}
		key := visit{src.Pointer(), src.Type()}
		if m, ok := seen[key]; ok {
			dst.Set(m)
			return
		}
		m := reflect.MakeMapWithSize(src.Type(), src.Len())
		seen[key] = m
		elem := src.Type().Elem()
		iter := src.MapRange()
		for iter.Next() {
			v := reflect.New(elem).Elem()
			deepCopy(v, iter.Value(), seen)
			m.SetMapIndex(iter.Key(), v)
		}
		dst.Set(m)

	case reflect.Slice:
		if src.IsNil() {
			return
		}
		s := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			deepCopy(s.Index(i), src.Index(i), seen)
		}
		dst.Set(s)

	case reflect.Array:
		for i := 0; i < src.Len(); i++ {
			deepCopy(dst.Index(i), src.Index(i), seen)
		}

	case reflect.Struct:
		dst.Set(src)
		for i := 0; i < src.NumField(); i++ {
			if f := dst.Field(i); f.CanSet() {
				deepCopy(f, src.Field(i), seen)
			}
		}

	default:
		dst.Set(src)
	}
}
