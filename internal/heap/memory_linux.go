//go:build linux

package heap

import "golang.org/x/sys/unix"

// reserve maps an anonymous, lazily committed range. MAP_NORESERVE keeps a
// large virtual reservation from counting against overcommit until pages
// are touched.
func reserve(n uintptr) (backing, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, err
	}
	return mmapBacking(b), nil
}
