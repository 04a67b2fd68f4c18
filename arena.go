// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// The PLV arena owns the backing storage for every partial likelihood vector
// of an engine: one contiguous float64 buffer of
// plvCount · stateCount · patternCount entries, subdivided into fixed-shape
// matrix views that share the memory. The buffer is either anonymous heap
// memory or a memory-mapped file; a mapped file has no header, is raw
// doubles in (slot, state, pattern) row-major order, survives the process,
// and is not portable across shapes or endianness.

// A PLV is one partial likelihood view: a dense stateCount × patternCount
// matrix over the arena's backing store.
type PLV struct {
	data         []float64
	stateCount   int
	patternCount int
}

// Row returns the pattern vector of one state.
func (p PLV) Row(state int) []float64 {
	return p.data[state*p.patternCount : (state+1)*p.patternCount]
}

// At returns the entry for a state and pattern.
func (p PLV) At(state, pattern int) float64 {
	return p.data[state*p.patternCount+pattern]
}

// Set assigns the entry for a state and pattern.
func (p PLV) Set(state, pattern int, v float64) {
	p.data[state*p.patternCount+pattern] = v
}

// Min returns the smallest entry.
func (p PLV) Min() float64 {
	min := p.data[0]
	for _, v := range p.data[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// zero clears the view.
func (p PLV) zero() {
	for i := range p.data {
		p.data[i] = 0
	}
}

// scaleBy multiplies every entry in place.
func (p PLV) scaleBy(factor float64) {
	for i := range p.data {
		p.data[i] *= factor
	}
}

type plvArena struct {
	data         []float64
	mapped       mmap.MMap
	file         *os.File
	plvCount     int
	stateCount   int
	patternCount int
}

// newPLVArena acquires the backing storage for plvCount PLVs. With an empty
// path the buffer is anonymous heap memory; otherwise the named file is
// created (or truncated), sized, and memory-mapped. Resource failures are
// fatal per the error design, but surfaced as errors here because the arena
// is built during engine construction, which still reports input errors.
func newPLVArena(plvCount, stateCount, patternCount int, path string) (*plvArena, error) {
	if plvCount <= 0 || stateCount <= 0 || patternCount <= 0 {
		return nil, fmt.Errorf("bad PLV arena shape %d x %d x %d", plvCount, stateCount, patternCount)
	}
	a := &plvArena{plvCount: plvCount, stateCount: stateCount, patternCount: patternCount}
	entries := plvCount * stateCount * patternCount
	if path == "" {
		a.data = make([]float64, entries)
		return a, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PLV arena backing file: %w", err)
	}
	if err := f.Truncate(int64(entries) * 8); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing PLV arena backing file: %w", err)
	}
	mapped, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapping PLV arena backing file: %w", err)
	}
	a.file = f
	a.mapped = mapped
	a.data = unsafe.Slice((*float64)(unsafe.Pointer(&mapped[0])), entries)
	return a, nil
}

// PLV returns the view of slot i.
func (a *plvArena) PLV(i int) PLV {
	stride := a.stateCount * a.patternCount
	return PLV{
		data:         a.data[i*stride : (i+1)*stride],
		stateCount:   a.stateCount,
		patternCount: a.patternCount,
	}
}

// Close releases the backing storage. A mapped backing file is flushed and
// left on disk for the caller. Close is idempotent.
func (a *plvArena) Close() error {
	if a.mapped == nil {
		a.data = nil
		return nil
	}
	var first error
	if err := a.mapped.Flush(); err != nil {
		first = err
	}
	if err := a.mapped.Unmap(); err != nil && first == nil {
		first = err
	}
	if err := a.file.Close(); err != nil && first == nil {
		first = err
	}
	a.mapped = nil
	a.file = nil
	a.data = nil
	return first
}
