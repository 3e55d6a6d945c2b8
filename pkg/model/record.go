// Package model defines the core data structures used throughout the application.
package model

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// AllocationRecord represents one observed memory event.
//
// ID is an opaque address-class identifier assigned by the instrumentation
// layer; it is not a real pointer and must not be dereferenced. StackHash
// references an entry in the snapshot's call-stack table, or is zero when
// no stack was captured. Records are immutable once collected.
type AllocationRecord struct {
	ID        uint64 `json:"id" msgpack:"id"`
	Size      uint64 `json:"size" msgpack:"size"`
	TypeName  string `json:"type_name,omitempty" msgpack:"type_name,omitempty"`
	Timestamp int64  `json:"ts" msgpack:"ts"`
	ThreadID  uint32 `json:"thread_id" msgpack:"thread_id"`
	StackHash uint64 `json:"stack_hash,omitempty" msgpack:"stack_hash,omitempty"`
}

// HasStack reports whether the record references a call stack.
func (r *AllocationRecord) HasStack() bool {
	return r.StackHash != 0
}

// StackFrame describes a single frame of a call stack.
type StackFrame struct {
	Function string `json:"func" msgpack:"func"`
	File     string `json:"file,omitempty" msgpack:"file,omitempty"`
	Line     uint32 `json:"line,omitempty" msgpack:"line,omitempty"`
}

// CallStack is an ordered sequence of frames plus a content hash used as
// the deduplication key. Many records may share one CallStack.
type CallStack struct {
	Hash   uint64       `json:"hash" msgpack:"hash"`
	Frames []StackFrame `json:"frames" msgpack:"frames"`
}

// frame and record separators for the canonical hash input. Chosen so that
// frame contents cannot collide across field boundaries.
const (
	hashFieldSep  = 0x00
	hashRecordSep = 0x1e
)

// ComputeHash computes the content hash over the canonical frame
// serialization and stores it in Hash. The same frame sequence always
// produces the same hash, independent of how the stack was captured.
func (cs *CallStack) ComputeHash() uint64 {
	d := xxhash.New()
	var lineBuf [4]byte
	for _, f := range cs.Frames {
		_, _ = d.WriteString(f.Function)
		_, _ = d.Write([]byte{hashFieldSep})
		_, _ = d.WriteString(f.File)
		_, _ = d.Write([]byte{hashFieldSep})
		binary.LittleEndian.PutUint32(lineBuf[:], f.Line)
		_, _ = d.Write(lineBuf[:])
		_, _ = d.Write([]byte{hashRecordSep})
	}
	cs.Hash = d.Sum64()
	return cs.Hash
}

// Depth returns the number of frames in the stack.
func (cs *CallStack) Depth() int {
	return len(cs.Frames)
}

// PlaceholderStack returns the stack inserted by the collector when a
// record references a hash that is missing from the source's table.
func PlaceholderStack(hash uint64) CallStack {
	return CallStack{
		Hash:   hash,
		Frames: []StackFrame{{Function: "<unresolved>"}},
	}
}

// TypeAggregate summarizes allocations of a single type.
type TypeAggregate struct {
	Count      uint64 `json:"count" msgpack:"count"`
	TotalBytes uint64 `json:"total_bytes" msgpack:"total_bytes"`
	PeakBytes  uint64 `json:"peak_bytes,omitempty" msgpack:"peak_bytes,omitempty"`
}

// AnalysisResults is a bag of precomputed summaries attached to a snapshot.
// The export pipeline carries it through unchanged; only the analyzers that
// produced it interpret the contents.
type AnalysisResults struct {
	FragmentationScore float64                  `json:"fragmentation_score,omitempty" msgpack:"fragmentation_score,omitempty"`
	LeakCandidates     []uint64                 `json:"leak_candidates,omitempty" msgpack:"leak_candidates,omitempty"`
	TypeAggregates     map[string]TypeAggregate `json:"type_aggregates,omitempty" msgpack:"type_aggregates,omitempty"`
}

// IsEmpty reports whether no analysis data is attached.
func (a *AnalysisResults) IsEmpty() bool {
	return a.FragmentationScore == 0 && len(a.LeakCandidates) == 0 && len(a.TypeAggregates) == 0
}

// UnifiedData is the root aggregate produced by the collector: the record
// sequence, the deduplicated call-stack table, and analysis results.
//
// Invariant: every StackHash referenced by a record exists in Stacks
// exactly once. Validate checks this.
type UnifiedData struct {
	Records  []AllocationRecord   `json:"records" msgpack:"records"`
	Stacks   map[uint64]CallStack `json:"stacks" msgpack:"stacks"`
	Analysis AnalysisResults      `json:"analysis" msgpack:"analysis"`
}

// NewUnifiedData returns an empty snapshot ready for collection.
func NewUnifiedData() *UnifiedData {
	return &UnifiedData{
		Stacks: make(map[uint64]CallStack),
	}
}

// Validate checks the referential-integrity invariant: every stack hash
// referenced by a record must resolve to a table entry stored under that
// same hash.
func (u *UnifiedData) Validate() error {
	for i := range u.Records {
		h := u.Records[i].StackHash
		if h == 0 {
			continue
		}
		cs, ok := u.Stacks[h]
		if !ok {
			return fmt.Errorf("record %d references unknown call stack %#x", i, h)
		}
		if cs.Hash != h {
			return fmt.Errorf("call stack table entry %#x stored under key %#x", cs.Hash, h)
		}
	}
	return nil
}

// RecordCount returns the number of allocation records.
func (u *UnifiedData) RecordCount() int {
	return len(u.Records)
}

// StackCount returns the number of deduplicated call stacks.
func (u *UnifiedData) StackCount() int {
	return len(u.Stacks)
}

// TotalBytes returns the sum of all recorded allocation sizes.
func (u *UnifiedData) TotalBytes() uint64 {
	var total uint64
	for i := range u.Records {
		total += u.Records[i].Size
	}
	return total
}
