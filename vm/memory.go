package vm

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

const PageSize = 65536

// MemoryInstance is spec §3.3/§4.2's MemoryInstance: linear memory with
// bounds-checked load/store, atomic primitives, and bulk operations. It
// implements the root wasmruntime.Memory / MemorySizer / Allocator-adjacent
// contracts so the canonical ABI layer (package canon) can address it
// without depending on vm directly.
type MemoryInstance struct {
	mu       sync.RWMutex
	bytes    []byte
	pages    uint32
	maxPages uint32
	shared   bool
	is64     bool
	owner    *ModuleInstance
}

func NewMemoryInstance(initPages, maxPages uint32, shared, is64 bool, owner *ModuleInstance) *MemoryInstance {
	m := &MemoryInstance{
		pages:    initPages,
		maxPages: maxPages,
		shared:   shared,
		is64:     is64,
		owner:    owner,
	}
	m.bytes = make([]byte, uint64(initPages)*PageSize)
	return m
}

func (m *MemoryInstance) Pages() uint32 { return atomic.LoadUint32(&m.pages) }
func (m *MemoryInstance) Size() uint32  { return m.Pages() * PageSize }
func (m *MemoryInstance) Shared() bool  { return m.shared }

// Grow extends memory by delta pages, bounded by the declared max and the
// runtime ceiling, returning the old page count or -1 on failure. Existing
// bytes are preserved (spec §4.2).
func (m *MemoryInstance) Grow(delta uint32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.pages
	newPages := uint64(old) + uint64(delta)
	ceiling := uint64(m.maxPages)
	if ceiling == 0 {
		ceiling = 65536
	}
	if newPages > ceiling {
		return -1
	}
	newBytes := make([]byte, newPages*PageSize)
	copy(newBytes, m.bytes)
	m.bytes = newBytes
	m.pages = uint32(newPages)
	return int64(old)
}

func (m *MemoryInstance) inBounds(addr uint64, n uint64) bool {
	total := uint64(m.Pages()) * PageSize
	// widen addition to u64 per spec §3.3 to avoid wraparound false negatives
	return addr+n <= total && addr+n >= addr
}

func (m *MemoryInstance) checkBounds(addr uint64, n uint64, opcode byte, offset uint32) *Trap {
	if !m.inBounds(addr, n) {
		return NewTrap(TrapMemoryOutOfBounds, opcode, offset, "access [%d, %d) exceeds memory of %d bytes", addr, addr+n, m.Size()).
			WithContext("addr", addr).WithContext("len", n)
	}
	return nil
}

// Load reads n bytes little-endian at addr.
func (m *MemoryInstance) Load(addr uint64, n int, opcode byte, offset uint32) ([]byte, *Trap) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.checkBounds(addr, uint64(n), opcode, offset); t != nil {
		return nil, t
	}
	out := make([]byte, n)
	copy(out, m.bytes[addr:addr+uint64(n)])
	return out, nil
}

// Store writes data at addr, trapping on OOB without partial writes (spec §8
// "never a partial write").
func (m *MemoryInstance) Store(addr uint64, data []byte, opcode byte, offset uint32) *Trap {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.checkBounds(addr, uint64(len(data)), opcode, offset); t != nil {
		return t
	}
	copy(m.bytes[addr:addr+uint64(len(data))], data)
	return nil
}

func (m *MemoryInstance) LoadU32(addr uint64, opcode byte, offset uint32) (uint32, *Trap) {
	b, t := m.Load(addr, 4, opcode, offset)
	if t != nil {
		return 0, t
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *MemoryInstance) LoadU64(addr uint64, opcode byte, offset uint32) (uint64, *Trap) {
	b, t := m.Load(addr, 8, opcode, offset)
	if t != nil {
		return 0, t
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *MemoryInstance) StoreU32(addr uint64, v uint32, opcode byte, offset uint32) *Trap {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return m.Store(addr, b, opcode, offset)
}

func (m *MemoryInstance) StoreU64(addr uint64, v uint64, opcode byte, offset uint32) *Trap {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return m.Store(addr, b, opcode, offset)
}

// Fill, Copy, Init implement the bulk-memory operations of spec §4.2.

func (m *MemoryInstance) Fill(off uint64, b byte, length uint64, opcode byte, offset uint32) *Trap {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.checkBounds(off, length, opcode, offset); t != nil {
		return t
	}
	for i := uint64(0); i < length; i++ {
		m.bytes[off+i] = b
	}
	return nil
}

// Copy handles overlap correctly (spec requirement) by delegating to Go's
// copy, which is memmove semantics.
func (m *MemoryInstance) Copy(dstOff uint64, src *MemoryInstance, srcOff, length uint64, opcode byte, offset uint32) *Trap {
	if src == m {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t := m.checkBounds(dstOff, length, opcode, offset); t != nil {
			return t
		}
		if t := m.checkBounds(srcOff, length, opcode, offset); t != nil {
			return t
		}
		copy(m.bytes[dstOff:dstOff+length], m.bytes[srcOff:srcOff+length])
		return nil
	}
	src.mu.RLock()
	if t := src.checkBounds(srcOff, length, opcode, offset); t != nil {
		src.mu.RUnlock()
		return t
	}
	tmp := make([]byte, length)
	copy(tmp, src.bytes[srcOff:srcOff+length])
	src.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.checkBounds(dstOff, length, opcode, offset); t != nil {
		return t
	}
	copy(m.bytes[dstOff:dstOff+length], tmp)
	return nil
}

func (m *MemoryInstance) Init(dstOff uint64, data *DataInstance, srcOff, length uint64, opcode byte, offset uint32) *Trap {
	if srcOff+length > uint64(len(data.Bytes)) {
		return NewTrap(TrapDataSegDoesNotFit, opcode, offset, "data segment init [%d,%d) exceeds segment of %d bytes", srcOff, srcOff+length, len(data.Bytes))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.checkBounds(dstOff, length, opcode, offset); t != nil {
		return t
	}
	copy(m.bytes[dstOff:dstOff+length], data.Bytes[srcOff:srcOff+length])
	return nil
}

// RawPointer returns an unchecked view used by atomic primitives — callers
// must have range-checked via checkBounds first (spec §4.2 get_pointer).
func (m *MemoryInstance) RawPointer(addr uint64, n int) []byte {
	return m.bytes[addr : addr+uint64(n)]
}

func (m *MemoryInstance) Lock()    { m.mu.Lock() }
func (m *MemoryInstance) Unlock()  { m.mu.Unlock() }

// --- wasmruntime.Memory / MemorySizer adapter methods (canon package) ---

func (m *MemoryInstance) Read(offset, length uint32) ([]byte, error) {
	b, t := m.Load(uint64(offset), int(length), 0, 0)
	if t != nil {
		return nil, t
	}
	return b, nil
}

func (m *MemoryInstance) Write(offset uint32, data []byte) error {
	if t := m.Store(uint64(offset), data, 0, 0); t != nil {
		return t
	}
	return nil
}

func (m *MemoryInstance) ReadU8(offset uint32) (uint8, error) {
	b, t := m.Load(uint64(offset), 1, 0, 0)
	if t != nil {
		return 0, t
	}
	return b[0], nil
}

func (m *MemoryInstance) ReadU16(offset uint32) (uint16, error) {
	b, t := m.Load(uint64(offset), 2, 0, 0)
	if t != nil {
		return 0, t
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *MemoryInstance) ReadU32(offset uint32) (uint32, error) {
	v, t := m.LoadU32(uint64(offset), 0, 0)
	if t != nil {
		return 0, t
	}
	return v, nil
}

func (m *MemoryInstance) ReadU64(offset uint32) (uint64, error) {
	v, t := m.LoadU64(uint64(offset), 0, 0)
	if t != nil {
		return 0, t
	}
	return v, nil
}

func (m *MemoryInstance) WriteU8(offset uint32, v uint8) error {
	if t := m.Store(uint64(offset), []byte{v}, 0, 0); t != nil {
		return t
	}
	return nil
}

func (m *MemoryInstance) WriteU16(offset uint32, v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	if t := m.Store(uint64(offset), b, 0, 0); t != nil {
		return t
	}
	return nil
}

func (m *MemoryInstance) WriteU32(offset uint32, v uint32) error {
	if t := m.StoreU32(uint64(offset), v, 0, 0); t != nil {
		return t
	}
	return nil
}

func (m *MemoryInstance) WriteU64(offset uint32, v uint64) error {
	if t := m.StoreU64(uint64(offset), v, 0, 0); t != nil {
		return t
	}
	return nil
}
