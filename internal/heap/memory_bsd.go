//go:build unix && !linux

package heap

import "golang.org/x/sys/unix"

func reserve(n uintptr) (backing, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return mmapBacking(b), nil
}
