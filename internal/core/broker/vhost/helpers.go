package vhost

import "reflect"

// convertToPositiveInt64 accepts the integer shapes queue arguments take after
// passing through a protocol decoder or a JSON store.
func convertToPositiveInt64(arg any) (int64, bool) {
	var v int64
	switch n := arg.(type) {
	case int64:
		v = n
	case int32:
		v = int64(n)
	case int16:
		v = int64(n)
	case int8:
		v = int64(n)
	case int:
		v = int64(n)
	case uint64:
		v = int64(n)
	case uint32:
		v = int64(n)
	case uint16:
		v = int64(n)
	case uint8:
		v = int64(n)
	case float64:
		v = int64(n)
	default:
		return 0, false
	}
	if v <= 0 {
		return 0, false
	}
	return v, true
}

func equalArgs(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		an, aok := convertToPositiveInt64(av)
		bn, bok := convertToPositiveInt64(bv)
		if aok && bok {
			if an != bn {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
