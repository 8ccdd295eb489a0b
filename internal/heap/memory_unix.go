//go:build unix

package heap

import "golang.org/x/sys/unix"

// mmapBacking is an OS mapping obtained through mmap(2).
type mmapBacking []byte

func (m mmapBacking) bytes() []byte { return m }

func (m mmapBacking) protect(off, n uintptr, readable bool) error {
	prot := unix.PROT_NONE
	if readable {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.Mprotect(m[off:off+n], prot)
}

func (m mmapBacking) release() error { return unix.Munmap(m) }
