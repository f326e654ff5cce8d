package dynamic

import (
	"github.com/goccy/go-reflect"
)

// keyLess orders two map keys for deterministic output: false before
// true, numeric order for integers, lexicographic order for strings.
// The kinds of a map's keys never mix, so no cross-kind order is
// defined.
func keyLess(a, b Value) bool {
	va := reflect.ValueOf(mapKey(a))
	vb := reflect.ValueOf(mapKey(b))
	switch va.Kind() {
	case reflect.Bool:
		return !va.Bool() && vb.Bool()
	case reflect.Int32, reflect.Int64:
		return va.Int() < vb.Int()
	case reflect.Uint32, reflect.Uint64:
		return va.Uint() < vb.Uint()
	case reflect.String:
		return va.String() < vb.String()
	default:
		return false
	}
}
