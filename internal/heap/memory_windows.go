//go:build windows

package heap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// virtualBacking is a range obtained through VirtualAlloc.
type virtualBacking struct {
	addr uintptr
	buf  []byte
}

func reserve(n uintptr) (backing, error) {
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return &virtualBacking{addr: addr, buf: unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)}, nil
}

func (v *virtualBacking) bytes() []byte { return v.buf }

func (v *virtualBacking) protect(off, n uintptr, readable bool) error {
	prot := uint32(windows.PAGE_NOACCESS)
	if readable {
		prot = windows.PAGE_READWRITE
	}
	var old uint32
	return windows.VirtualProtect(v.addr+off, n, prot, &old)
}

func (v *virtualBacking) release() error {
	v.buf = nil
	return windows.VirtualFree(v.addr, 0, windows.MEM_RELEASE)
}
