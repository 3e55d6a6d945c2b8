package format

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// interchangeEnvelope is the msgpack document behind the interchange
// header. Stacks are a hash-sorted slice rather than a map so the
// encoding is deterministic and easy to consume from other languages.
type interchangeEnvelope struct {
	Records  []model.AllocationRecord `msgpack:"records"`
	Stacks   []model.CallStack        `msgpack:"stacks"`
	Analysis analysisEnvelope         `msgpack:"analysis"`
}

// Interchange body = msgpack envelope + [checksum:u64] trailer, where
// the checksum is xxhash64 over the envelope bytes.

func encodeInterchangeBody(u *model.UnifiedData) ([]byte, error) {
	env := interchangeEnvelope{Records: u.Records}
	env.Stacks = make([]model.CallStack, 0, len(u.Stacks))
	for _, cs := range u.Stacks {
		env.Stacks = append(env.Stacks, cs)
	}
	sort.Slice(env.Stacks, func(i, j int) bool { return env.Stacks[i].Hash < env.Stacks[j].Hash })
	env.Analysis.FragmentationScore = u.Analysis.FragmentationScore
	env.Analysis.LeakCandidates = u.Analysis.LeakCandidates
	if len(u.Analysis.TypeAggregates) > 0 {
		env.Analysis.Types = make([]typeEntry, 0, len(u.Analysis.TypeAggregates))
		for name, agg := range u.Analysis.TypeAggregates {
			env.Analysis.Types = append(env.Analysis.Types, typeEntry{Name: name, Agg: agg})
		}
		sort.Slice(env.Analysis.Types, func(i, j int) bool {
			return env.Analysis.Types[i].Name < env.Analysis.Types[j].Name
		})
	}

	doc, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCorruptData, "encode interchange envelope", err)
	}
	body := make([]byte, 0, len(doc)+8)
	body = append(body, doc...)
	body = binary.LittleEndian.AppendUint64(body, xxhash.Sum64(doc))
	return body, nil
}

func decodeInterchangeBody(body []byte) (*model.UnifiedData, error) {
	if len(body) < 8 {
		return nil, errors.CorruptData("interchange body missing trailer")
	}
	doc := body[:len(body)-8]
	sum := binary.LittleEndian.Uint64(body[len(body)-8:])
	if got := xxhash.Sum64(doc); got != sum {
		return nil, errors.CorruptData("interchange checksum mismatch")
	}

	var env interchangeEnvelope
	if err := msgpack.Unmarshal(doc, &env); err != nil {
		return nil, errors.Wrap(errors.CodeCorruptData, "decode interchange envelope", err)
	}

	u := &model.UnifiedData{
		Records: env.Records,
		Stacks:  make(map[uint64]model.CallStack, len(env.Stacks)),
	}
	for _, cs := range env.Stacks {
		u.Stacks[cs.Hash] = cs
	}
	u.Analysis.FragmentationScore = env.Analysis.FragmentationScore
	u.Analysis.LeakCandidates = env.Analysis.LeakCandidates
	if len(env.Analysis.Types) > 0 {
		u.Analysis.TypeAggregates = make(map[string]model.TypeAggregate, len(env.Analysis.Types))
		for _, e := range env.Analysis.Types {
			u.Analysis.TypeAggregates[e.Name] = e.Agg
		}
	}
	return u, nil
}
