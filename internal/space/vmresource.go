package space

import (
	"fmt"
	"sort"

	"github.com/orizon-lang/gckit/internal/gcerr"
	"github.com/orizon-lang/gckit/internal/heap"
)

// VMResource hands out page runs inside a space's range. Callers
// serialize access (the Accountant lock). Acquired pages are zeroed.
type VMResource interface {
	// Acquire returns the start of a run of pages, or zero if the range
	// has no such run.
	Acquire(pages int) heap.Address
	// ReleasePages returns a run to the resource.
	ReleasePages(start heap.Address, pages int)
	// Reset returns every page to the resource.
	Reset()
	// InUse reports whether the page containing a is handed out.
	InUse(a heap.Address) bool
}

// MonotoneVMResource carves pages in address order and can only be
// recycled as a whole.
type MonotoneVMResource struct {
	mem    *heap.Memory
	region heap.Region
	cursor heap.Address
}

// NewMonotone creates a monotone resource over r.
func NewMonotone(mem *heap.Memory, r heap.Region) *MonotoneVMResource {
	return &MonotoneVMResource{mem: mem, region: r, cursor: r.Start}
}

func (m *MonotoneVMResource) Acquire(pages int) heap.Address {
	n := heap.PagesToBytes(pages)
	if m.cursor.Plus(n) > m.region.End() {
		return 0
	}
	start := m.cursor
	m.cursor = start.Plus(n)
	if gcerr.VerifyAssertions {
		_ = m.mem.Protect(start, n, true)
	}
	m.mem.Zero(start, n)
	return start
}

func (m *MonotoneVMResource) ReleasePages(start heap.Address, pages int) {
	panic(fmt.Sprintf("space: page release of %s+%d from monotone range %s", start, pages, m.region))
}

// Reset rewinds the cursor. Debug builds protect the recycled pages so
// that a stale pointer into them faults.
func (m *MonotoneVMResource) Reset() {
	if gcerr.VerifyAssertions && m.cursor > m.region.Start {
		_ = m.mem.Protect(m.region.Start, m.cursor.Diff(m.region.Start), false)
	}
	m.cursor = m.region.Start
}

func (m *MonotoneVMResource) InUse(a heap.Address) bool {
	return a >= m.region.Start && a < m.cursor
}

// Cursor returns the first page not yet handed out.
func (m *MonotoneVMResource) Cursor() heap.Address { return m.cursor }

type run struct {
	page  int
	pages int
}

// FreeListVMResource keeps free page runs sorted by address, allocates
// first fit, and coalesces neighbours on release.
type FreeListVMResource struct {
	mem    *heap.Memory
	region heap.Region
	total  int
	free   []run
}

// NewFreeList creates a free-list resource over r.
func NewFreeList(mem *heap.Memory, r heap.Region) *FreeListVMResource {
	f := &FreeListVMResource{mem: mem, region: r, total: heap.BytesToPages(r.Extent)}
	f.Reset()
	return f
}

func (f *FreeListVMResource) address(page int) heap.Address {
	return f.region.Start.Plus(heap.PagesToBytes(page))
}

func (f *FreeListVMResource) page(a heap.Address) int {
	return int(a.Diff(f.region.Start) >> heap.LogBytesInPage)
}

func (f *FreeListVMResource) Acquire(pages int) heap.Address {
	for i := range f.free {
		r := &f.free[i]
		if r.pages < pages {
			continue
		}
		start := f.address(r.page)
		r.page += pages
		r.pages -= pages
		if r.pages == 0 {
			f.free = append(f.free[:i], f.free[i+1:]...)
		}
		f.mem.Zero(start, heap.PagesToBytes(pages))
		return start
	}
	return 0
}

func (f *FreeListVMResource) ReleasePages(start heap.Address, pages int) {
	p := f.page(start)
	if !start.IsAligned(heap.BytesInPage) || p < 0 || p+pages > f.total {
		gcerr.Failf("BAD_PAGE_RELEASE", "release of %s+%d pages outside %s", start, pages, f.region)
	}
	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].page > p })
	if (i > 0 && f.free[i-1].page+f.free[i-1].pages > p) || (i < len(f.free) && p+pages > f.free[i].page) {
		gcerr.Failf("DOUBLE_PAGE_RELEASE", "pages %s+%d are already free", start, pages)
	}
	f.free = append(f.free, run{})
	copy(f.free[i+1:], f.free[i:])
	f.free[i] = run{page: p, pages: pages}
	// Coalesce with the successor, then with the predecessor.
	if i+1 < len(f.free) && f.free[i].page+f.free[i].pages == f.free[i+1].page {
		f.free[i].pages += f.free[i+1].pages
		f.free = append(f.free[:i+1], f.free[i+2:]...)
	}
	if i > 0 && f.free[i-1].page+f.free[i-1].pages == f.free[i].page {
		f.free[i-1].pages += f.free[i].pages
		f.free = append(f.free[:i], f.free[i+1:]...)
	}
}

func (f *FreeListVMResource) Reset() {
	f.free = append(f.free[:0], run{page: 0, pages: f.total})
}

func (f *FreeListVMResource) InUse(a heap.Address) bool {
	if !f.region.Contains(a) {
		return false
	}
	p := f.page(a)
	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].page > p })
	return i == 0 || f.free[i-1].page+f.free[i-1].pages <= p
}

// FreePages returns the number of pages not handed out.
func (f *FreeListVMResource) FreePages() int {
	n := 0
	for _, r := range f.free {
		n += r.pages
	}
	return n
}

// Runs returns the number of free runs, a fragmentation measure.
func (f *FreeListVMResource) Runs() int { return len(f.free) }
