package format

import (
	"encoding/binary"
	"sort"

	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// recordSize is the fixed wire size of one record:
// [id:u64][size:u64][ts:u64][thread:u32][type_idx:u32][stack_idx:u32].
const recordSize = 36

// noStackIndex marks a record without a call stack.
const noStackIndex = ^uint32(0)

// stringTable deduplicates strings referenced by index from records and
// stack frames. Index 0 is always the empty string.
type stringTable struct {
	index map[string]uint32
	list  []string
}

func newStringTable() *stringTable {
	return &stringTable{
		index: map[string]uint32{"": 0},
		list:  []string{""},
	}
}

func (t *stringTable) add(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint32(len(t.list))
	t.index[s] = idx
	t.list = append(t.list, s)
	return idx
}

// encodeWindow serializes a record window with its local stack table.
//
// Layout: [record_count:uvarint]
//         [string_count:uvarint]([len:uvarint][bytes])*
//         [stack_count:uvarint]([hash:u64][frame_count:uvarint]
//             ([func_idx:uvarint][file_idx:uvarint][line:uvarint])*)*
//         record_count fixed records.
//
// The stack table holds only stacks referenced by the window's records,
// sorted by hash so identical input always yields identical bytes. The
// second return value is the byte offset of the stack table within the
// window.
func encodeWindow(records []model.AllocationRecord, stacks map[uint64]model.CallStack) ([]byte, int, error) {
	return appendWindow(make([]byte, 0, windowSizeHint(records)), records, stacks)
}

// windowSizeHint estimates the encoded size of a window for buffer
// sizing. String and stack tables make the real size vary; appends
// past the hint just grow the slice.
func windowSizeHint(records []model.AllocationRecord) int {
	return len(records)*recordSize + len(records)*8
}

// appendWindow encodes the window into buf, which must be empty. The
// pooled write path passes a checked-out buffer here so the encode
// scratch is accounted against the memory ceiling.
func appendWindow(buf []byte, records []model.AllocationRecord, stacks map[uint64]model.CallStack) ([]byte, int, error) {
	used := make([]uint64, 0, len(stacks))
	seen := make(map[uint64]bool, len(stacks))
	for i := range records {
		h := records[i].StackHash
		if h == 0 || seen[h] {
			continue
		}
		if _, ok := stacks[h]; !ok {
			return nil, 0, errors.CorruptData("record references unknown call stack")
		}
		seen[h] = true
		used = append(used, h)
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })

	strings := newStringTable()
	for i := range records {
		strings.add(records[i].TypeName)
	}
	type frameRef struct{ fn, file uint32 }
	frameRefs := make(map[uint64][]frameRef, len(used))
	for _, h := range used {
		cs := stacks[h]
		refs := make([]frameRef, len(cs.Frames))
		for i, f := range cs.Frames {
			refs[i] = frameRef{fn: strings.add(f.Function), file: strings.add(f.File)}
		}
		frameRefs[h] = refs
	}

	stackIndex := make(map[uint64]uint32, len(used))
	for i, h := range used {
		stackIndex[h] = uint32(i)
	}

	buf = binary.AppendUvarint(buf, uint64(len(records)))

	buf = binary.AppendUvarint(buf, uint64(len(strings.list)))
	for _, s := range strings.list {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}

	tableOff := len(buf)
	buf = binary.AppendUvarint(buf, uint64(len(used)))
	for _, h := range used {
		cs := stacks[h]
		buf = binary.LittleEndian.AppendUint64(buf, h)
		buf = binary.AppendUvarint(buf, uint64(len(cs.Frames)))
		for i, f := range cs.Frames {
			buf = binary.AppendUvarint(buf, uint64(frameRefs[h][i].fn))
			buf = binary.AppendUvarint(buf, uint64(frameRefs[h][i].file))
			buf = binary.AppendUvarint(buf, uint64(f.Line))
		}
	}

	for i := range records {
		r := &records[i]
		idx := noStackIndex
		if r.StackHash != 0 {
			idx = stackIndex[r.StackHash]
		}
		buf = binary.LittleEndian.AppendUint64(buf, r.ID)
		buf = binary.LittleEndian.AppendUint64(buf, r.Size)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Timestamp))
		buf = binary.LittleEndian.AppendUint32(buf, r.ThreadID)
		buf = binary.LittleEndian.AppendUint32(buf, strings.index[r.TypeName])
		buf = binary.LittleEndian.AppendUint32(buf, idx)
	}
	return buf, tableOff, nil
}

// windowReader decodes window bytes with bounds checks. Every read
// failure surfaces as CorruptData rather than a panic.
type windowReader struct {
	data []byte
	off  int
}

func (r *windowReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, errors.CorruptData("truncated varint")
	}
	r.off += n
	return v, nil
}

func (r *windowReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, errors.CorruptData("truncated field")
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *windowReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *windowReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// decodeWindow parses one window and returns its records and the stacks
// they reference.
func decodeWindow(data []byte) ([]model.AllocationRecord, map[uint64]model.CallStack, error) {
	r := &windowReader{data: data}
	records, stacks, err := decodeWindowFrom(r)
	if err != nil {
		return nil, nil, err
	}
	if r.off != len(data) {
		return nil, nil, errors.CorruptData("trailing bytes after window")
	}
	return records, stacks, nil
}

// decodeWindowFrom parses a window starting at the reader's current
// offset, leaving the reader positioned after it.
func decodeWindowFrom(r *windowReader) ([]model.AllocationRecord, map[uint64]model.CallStack, error) {
	data := r.data

	recordCount, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	if recordCount > uint64(len(data)/recordSize)+1 {
		return nil, nil, errors.CorruptData("record count exceeds window size")
	}

	stringCount, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	if stringCount > uint64(len(data)) {
		return nil, nil, errors.CorruptData("string count exceeds window size")
	}
	strings := make([]string, stringCount)
	for i := range strings {
		n, err := r.uvarint()
		if err != nil {
			return nil, nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, nil, err
		}
		strings[i] = string(b)
	}

	stackCount, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	if stackCount > uint64(len(data)) {
		return nil, nil, errors.CorruptData("stack count exceeds window size")
	}
	hashes := make([]uint64, stackCount)
	stacks := make(map[uint64]model.CallStack, stackCount)
	for i := uint64(0); i < stackCount; i++ {
		hash, err := r.u64()
		if err != nil {
			return nil, nil, err
		}
		frameCount, err := r.uvarint()
		if err != nil {
			return nil, nil, err
		}
		if frameCount > uint64(len(data)) {
			return nil, nil, errors.CorruptData("frame count exceeds window size")
		}
		frames := make([]model.StackFrame, frameCount)
		for j := range frames {
			fnIdx, err := r.uvarint()
			if err != nil {
				return nil, nil, err
			}
			fileIdx, err := r.uvarint()
			if err != nil {
				return nil, nil, err
			}
			line, err := r.uvarint()
			if err != nil {
				return nil, nil, err
			}
			if fnIdx >= stringCount || fileIdx >= stringCount {
				return nil, nil, errors.CorruptData("frame string index out of range")
			}
			frames[j] = model.StackFrame{
				Function: strings[fnIdx],
				File:     strings[fileIdx],
				Line:     uint32(line),
			}
		}
		hashes[i] = hash
		stacks[hash] = model.CallStack{Hash: hash, Frames: frames}
	}

	records := make([]model.AllocationRecord, recordCount)
	for i := range records {
		id, err := r.u64()
		if err != nil {
			return nil, nil, err
		}
		size, err := r.u64()
		if err != nil {
			return nil, nil, err
		}
		ts, err := r.u64()
		if err != nil {
			return nil, nil, err
		}
		thread, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		typeIdx, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		stackIdx, err := r.u32()
		if err != nil {
			return nil, nil, err
		}
		if uint64(typeIdx) >= stringCount {
			return nil, nil, errors.CorruptData("record type index out of range")
		}
		var stackHash uint64
		if stackIdx != noStackIndex {
			if uint64(stackIdx) >= stackCount {
				return nil, nil, errors.CorruptData("record stack index out of range")
			}
			stackHash = hashes[stackIdx]
		}
		records[i] = model.AllocationRecord{
			ID:        id,
			Size:      size,
			TypeName:  strings[typeIdx],
			Timestamp: int64(ts),
			ThreadID:  thread,
			StackHash: stackHash,
		}
	}
	return records, stacks, nil
}
