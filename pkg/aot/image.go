// Package aot holds the ahead-of-time output image: an append-only list
// of fixed-size binary blocks plus the side tables (unresolved local and
// global references, absolute-address fix-ups, heap globals) and the
// resolution pass that patches them.
package aot

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BlockSize is the fixed binary block size.
const BlockSize = 65536

// RefKind tells the patcher what encoding sits at a reference site.
type RefKind int

const (
	RefRel32 RefKind = iota // 32-bit displacement relative to the end of the field
	RefAbs64                // 64-bit absolute address
)

func (k RefKind) String() string {
	if k == RefAbs64 {
		return "abs64"
	}
	return "rel32"
}

// Unresolved is one reference whose target was unknown at emission time.
// RIP is the image offset of the displacement field itself.
type Unresolved struct {
	Name   string
	RIP    int64
	Kind   RefKind
	RIPRel bool
}

// AbsAddr records a site whose absolute address was taken, for loader
// relocation.
type AbsAddr struct {
	RIP  int64
	Kind RefKind
}

// HeapGlobal describes one global variable the host allocates: name,
// byte size, and every image offset referencing it.
type HeapGlobal struct {
	Name string
	Size int64
	Refs []int64
}

// Image is the AOT output: origin address, sequentially filled blocks,
// and the four side tables.
type Image struct {
	Origin       int64
	MaxAlignBits byte

	blocks [][]byte
	size   int64

	LocalRefs  []Unresolved
	GlobalRefs []Unresolved
	AbsAddrs   []AbsAddr
	Heap       []HeapGlobal

	// Imports collects names still undefined after ResolveSymbols.
	Imports []string
}

// NewImage creates an empty image based at origin.
func NewImage(origin int64) *Image {
	return &Image{Origin: origin, MaxAlignBits: 3}
}

// Size returns the total number of code bytes written.
func (im *Image) Size() int64 {
	return im.size
}

// Write appends bytes, filling each block sequentially and allocating the
// next block on overflow. Returns the image offset of the first byte.
func (im *Image) Write(b []byte) int64 {
	off := im.size
	for len(b) > 0 {
		if len(im.blocks) == 0 || len(im.blocks[len(im.blocks)-1]) == BlockSize {
			im.blocks = append(im.blocks, make([]byte, 0, BlockSize))
		}
		blk := im.blocks[len(im.blocks)-1]
		room := BlockSize - len(blk)
		n := len(b)
		if n > room {
			n = room
		}
		im.blocks[len(im.blocks)-1] = append(blk, b[:n]...)
		b = b[n:]
		im.size += int64(n)
	}
	return off
}

// ByteAt reads one byte at an image offset.
func (im *Image) ByteAt(off int64) byte {
	return im.blocks[off/BlockSize][off%BlockSize]
}

// setByte patches one byte in place.
func (im *Image) setByte(off int64, v byte) {
	im.blocks[off/BlockSize][off%BlockSize] = v
}

// Patch32 overwrites a 32-bit little-endian field at an image offset.
func (im *Image) Patch32(off int64, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	for i := int64(0); i < 4; i++ {
		im.setByte(off+i, tmp[i])
	}
}

// Patch64 overwrites a 64-bit little-endian field.
func (im *Image) Patch64(off int64, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	for i := int64(0); i < 8; i++ {
		im.setByte(off+i, tmp[i])
	}
}

// Read32 reads a 32-bit little-endian field at an image offset.
func (im *Image) Read32(off int64) uint32 {
	var tmp [4]byte
	for i := int64(0); i < 4; i++ {
		tmp[i] = im.ByteAt(off + i)
	}
	return binary.LittleEndian.Uint32(tmp[:])
}

// Bytes concatenates every block.
func (im *Image) Bytes() []byte {
	out := make([]byte, 0, im.size)
	for _, b := range im.blocks {
		out = append(out, b...)
	}
	return out
}

// AddLocalRef records a reference to a not-yet-emitted local label.
func (im *Image) AddLocalRef(name string, off int64, kind RefKind, ripRel bool) {
	im.LocalRefs = append(im.LocalRefs, Unresolved{Name: name, RIP: off, Kind: kind, RIPRel: ripRel})
}

// AddGlobalRef records a reference to a global symbol deferred to AOT
// resolution.
func (im *Image) AddGlobalRef(name string, off int64, kind RefKind, ripRel bool) {
	im.GlobalRefs = append(im.GlobalRefs, Unresolved{Name: name, RIP: off, Kind: kind, RIPRel: ripRel})
}

// AddAbsAddr records an absolute-address site for loader relocation.
func (im *Image) AddAbsAddr(off int64, kind RefKind) {
	im.AbsAddrs = append(im.AbsAddrs, AbsAddr{RIP: off, Kind: kind})
}

// AddHeapGlobal registers a host-allocated global.
func (im *Image) AddHeapGlobal(name string, size int64) {
	im.Heap = append(im.Heap, HeapGlobal{Name: name, Size: size})
}

// heapRef attaches a reference site to a registered heap global.
func (im *Image) heapRef(name string, off int64) bool {
	for i := range im.Heap {
		if im.Heap[i].Name == name {
			im.Heap[i].Refs = append(im.Heap[i].Refs, off)
			return true
		}
	}
	return false
}

// patch fills one unresolved site given its target image offset.
func (im *Image) patch(ref Unresolved, target int64) {
	switch ref.Kind {
	case RefRel32:
		// Displacement fields are relative to the end of the 4-byte field.
		im.Patch32(ref.RIP, uint32(int32(target-(ref.RIP+4))))
	case RefAbs64:
		im.Patch64(ref.RIP, uint64(im.Origin+target))
		im.AddAbsAddr(ref.RIP, RefAbs64)
	}
}

// ResolveLocal patches every local reference against the defined label
// offsets. A local name missing from defs is a codegen bug and reported
// as an error by the caller.
func (im *Image) ResolveLocal(defs map[string]int64) []string {
	var missing []string
	for _, ref := range im.LocalRefs {
		target, ok := defs[ref.Name]
		if !ok {
			missing = append(missing, ref.Name)
			continue
		}
		im.patch(ref, target)
	}
	im.LocalRefs = im.LocalRefs[:0]
	return missing
}

// ResolveSymbols walks the global unresolved list: names defined in the
// image are patched; heap globals collect their reference sites; anything
// else is exported as an import requirement for the host runtime.
func (im *Image) ResolveSymbols(defs map[string]int64) {
	remaining := im.GlobalRefs[:0]
	seen := map[string]bool{}
	for _, ref := range im.GlobalRefs {
		if target, ok := defs[ref.Name]; ok {
			im.patch(ref, target)
			continue
		}
		if im.heapRef(ref.Name, ref.RIP) {
			continue
		}
		if !seen[ref.Name] {
			seen[ref.Name] = true
			im.Imports = append(im.Imports, ref.Name)
		}
		remaining = append(remaining, ref)
	}
	im.GlobalRefs = remaining
}

// WriteTo serializes the image: a header carrying origin (8 bytes), total
// code bytes (8 bytes), maximum alignment in bits (1 byte), and the four
// side-table counts, followed by the self-describing side-table entries
// and the concatenated blocks.
func (im *Image) WriteTo(w io.Writer) (int64, error) {
	var n int64
	put := func(b []byte) error {
		m, err := w.Write(b)
		n += int64(m)
		return err
	}
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], uint64(im.Origin))
	if err := put(tmp[:]); err != nil {
		return n, err
	}
	binary.LittleEndian.PutUint64(tmp[:], uint64(im.size))
	if err := put(tmp[:]); err != nil {
		return n, err
	}
	if err := put([]byte{im.MaxAlignBits}); err != nil {
		return n, err
	}

	counts := []int{len(im.LocalRefs), len(im.GlobalRefs), len(im.AbsAddrs), len(im.Heap)}
	for _, c := range counts {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(c))
		if err := put(tmp[:4]); err != nil {
			return n, err
		}
	}

	writeRef := func(ref Unresolved) error {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(ref.Kind))
		if err := put(tmp[:4]); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(tmp[:], uint64(ref.RIP))
		if err := put(tmp[:]); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(ref.Name)))
		if err := put(tmp[:4]); err != nil {
			return err
		}
		if err := put([]byte(ref.Name)); err != nil {
			return err
		}
		flag := byte(0)
		if ref.RIPRel {
			flag = 1
		}
		return put([]byte{flag})
	}
	for _, ref := range im.LocalRefs {
		if err := writeRef(ref); err != nil {
			return n, err
		}
	}
	for _, ref := range im.GlobalRefs {
		if err := writeRef(ref); err != nil {
			return n, err
		}
	}
	for _, a := range im.AbsAddrs {
		binary.LittleEndian.PutUint64(tmp[:], uint64(a.RIP))
		if err := put(tmp[:]); err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint32(tmp[:4], uint32(a.Kind))
		if err := put(tmp[:4]); err != nil {
			return n, err
		}
	}
	for _, h := range im.Heap {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(h.Name)))
		if err := put(tmp[:4]); err != nil {
			return n, err
		}
		if err := put([]byte(h.Name)); err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint64(tmp[:], uint64(h.Size))
		if err := put(tmp[:]); err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(h.Refs)))
		if err := put(tmp[:4]); err != nil {
			return n, err
		}
		for _, r := range h.Refs {
			binary.LittleEndian.PutUint64(tmp[:], uint64(r))
			if err := put(tmp[:]); err != nil {
				return n, err
			}
		}
	}

	for _, blk := range im.blocks {
		if err := put(blk); err != nil {
			return n, err
		}
	}
	return n, nil
}

// String summarizes the image for verbose listings.
func (im *Image) String() string {
	return fmt.Sprintf("image: %d bytes in %d blocks, %d global refs, %d heap globals, %d imports",
		im.size, len(im.blocks), len(im.GlobalRefs), len(im.Heap), len(im.Imports))
}
