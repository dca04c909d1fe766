package util

// Unpacks a slice into arguments and returns how many were set
// If the slice has less elements than variables passed in, the rest of the variables are not modified
// If the slice has more elements than the variables passed in, the additional elements are ignored
func Unpack[T any](toUnpack []T, unpackInto ...*T) int {
	n := min(len(toUnpack), len(unpackInto))
	for i := range n {
		*unpackInto[i] = toUnpack[i]
	}
	return n
}

// First returns the first element matching keep
func First[T any](in []T, keep func(T) bool) (T, bool) {
	for _, v := range in {
		if keep(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
