// Package layout views pool memory as typed elements. Only types without Go
// pointers may live there, since the garbage collector does not scan it.
package layout

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

// ErrUnsupportedType is returned by Check for element types that cannot be
// stored in pool memory.
var ErrUnsupportedType = errors.New("layout: unsupported element type")

// Check validates T as a pool element type: non-zero size, free of
// pointers, and no stricter alignment than maxAlign.
func Check[T any](maxAlign int) error {
	t := reflect.TypeFor[T]()
	switch {
	case t.Size() == 0:
		return fmt.Errorf("%w: %s has zero size", ErrUnsupportedType, t)
	case hasPointers(t):
		return fmt.Errorf("%w: %s contains pointers", ErrUnsupportedType, t)
	case t.Align() > maxAlign:
		return fmt.Errorf("%w: %s needs %d byte alignment", ErrUnsupportedType, t, t.Align())
	}
	return nil
}

// Size returns the size of T in bytes.
func Size[T any]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// View returns b as a slice of T with len and cap n. The caller guarantees
// b holds at least n elements and is suitably aligned.
func View[T any](b []byte, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
