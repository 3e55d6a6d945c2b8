package format

import (
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// typeEntry is the wire form of one TypeAggregates map entry. The map
// is flattened to a name-sorted slice so encoding is deterministic.
type typeEntry struct {
	Name string              `msgpack:"name"`
	Agg  model.TypeAggregate `msgpack:"agg"`
}

type analysisEnvelope struct {
	FragmentationScore float64     `msgpack:"frag,omitempty"`
	LeakCandidates     []uint64    `msgpack:"leaks,omitempty"`
	Types              []typeEntry `msgpack:"types,omitempty"`
}

func marshalAnalysis(a *model.AnalysisResults) ([]byte, error) {
	env := analysisEnvelope{
		FragmentationScore: a.FragmentationScore,
		LeakCandidates:     a.LeakCandidates,
	}
	if len(a.TypeAggregates) > 0 {
		env.Types = make([]typeEntry, 0, len(a.TypeAggregates))
		for name, agg := range a.TypeAggregates {
			env.Types = append(env.Types, typeEntry{Name: name, Agg: agg})
		}
		sort.Slice(env.Types, func(i, j int) bool { return env.Types[i].Name < env.Types[j].Name })
	}
	out, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCorruptData, "encode analysis section", err)
	}
	return out, nil
}

func unmarshalAnalysis(data []byte) (model.AnalysisResults, error) {
	var env analysisEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return model.AnalysisResults{}, errors.Wrap(errors.CodeCorruptData, "decode analysis section", err)
	}
	a := model.AnalysisResults{
		FragmentationScore: env.FragmentationScore,
		LeakCandidates:     env.LeakCandidates,
	}
	if len(env.Types) > 0 {
		a.TypeAggregates = make(map[string]model.TypeAggregate, len(env.Types))
		for _, e := range env.Types {
			a.TypeAggregates[e.Name] = e.Agg
		}
	}
	return a, nil
}
