//go:build !unix && !windows

package heap

func reserve(n uintptr) (backing, error) {
	return sliceBacking(make([]byte, n)), nil
}
