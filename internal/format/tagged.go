package format

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// Tagged body layout (before compression):
//
//	[record_count:uvarint][stack_table_offset:u64][checksum:u64]
//	payload: window (string table, stack table, fixed records)
//	         [analysis_len:uvarint][analysis msgpack]
//	[checksum:u64]
//
// stack_table_offset is measured from the payload start. The checksum
// is xxhash64 over the payload and is written twice, in the preamble
// and as the trailer, so both a header-first reader and a tail-first
// reader can verify without scanning.

func encodeTaggedBody(u *model.UnifiedData) ([]byte, error) {
	window, tableOff, err := encodeWindow(u.Records, u.Stacks)
	if err != nil {
		return nil, err
	}
	analysis, err := marshalAnalysis(&u.Analysis)
	if err != nil {
		return nil, err
	}

	payload := window
	payload = binary.AppendUvarint(payload, uint64(len(analysis)))
	payload = append(payload, analysis...)
	sum := xxhash.Sum64(payload)

	body := make([]byte, 0, len(payload)+32)
	body = binary.AppendUvarint(body, uint64(len(u.Records)))
	body = binary.LittleEndian.AppendUint64(body, uint64(tableOff))
	body = binary.LittleEndian.AppendUint64(body, sum)
	body = append(body, payload...)
	body = binary.LittleEndian.AppendUint64(body, sum)
	return body, nil
}

func decodeTaggedBody(body []byte) (*model.UnifiedData, error) {
	r := &windowReader{data: body}
	recordCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	tableOff, err := r.u64()
	if err != nil {
		return nil, err
	}
	sum, err := r.u64()
	if err != nil {
		return nil, err
	}
	if len(body)-r.off < 8 {
		return nil, errors.CorruptData("tagged body missing trailer")
	}
	payload := body[r.off : len(body)-8]
	trailer := binary.LittleEndian.Uint64(body[len(body)-8:])
	if trailer != sum {
		return nil, errors.CorruptData("header and trailer checksums disagree")
	}
	if got := xxhash.Sum64(payload); got != sum {
		return nil, errors.CorruptData("tagged payload checksum mismatch")
	}
	if tableOff > uint64(len(payload)) {
		return nil, errors.CorruptData("stack table offset out of range")
	}

	pr := &windowReader{data: payload}
	records, stacks, err := decodeWindowFrom(pr)
	if err != nil {
		return nil, err
	}
	if uint64(len(records)) != recordCount {
		return nil, errors.CorruptData("record count does not match preamble")
	}
	analysisLen, err := pr.uvarint()
	if err != nil {
		return nil, err
	}
	analysisBytes, err := pr.bytes(int(analysisLen))
	if err != nil {
		return nil, err
	}
	if pr.off != len(payload) {
		return nil, errors.CorruptData("trailing bytes in tagged payload")
	}
	analysis, err := unmarshalAnalysis(analysisBytes)
	if err != nil {
		return nil, err
	}
	return &model.UnifiedData{Records: records, Stacks: stacks, Analysis: analysis}, nil
}
