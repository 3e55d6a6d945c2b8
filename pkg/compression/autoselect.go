package compression

// Auto-selection takes a small prefix sample of the encoded payload and
// runs a cheap trial compression. Repetitive data (symbol tables, repeated
// type names) compresses well and earns the slower, higher-ratio codec;
// data that barely shrinks is not worth the CPU and gets the fast one.

const (
	// maxSampleSize bounds the trial-compression input.
	maxSampleSize = 64 * 1024

	// compressibleRatio is the trial ratio (compressed/original) below
	// which the sample counts as compressible. The exact threshold is a
	// quality-of-implementation choice, not a contract.
	compressibleRatio = 0.85
)

// AutoSelect picks a concrete algorithm for the given payload sample.
// Compressible data selects zstd; low-compressibility data selects lz4.
// An empty sample selects lz4.
func AutoSelect(sample []byte) Algorithm {
	if len(sample) == 0 {
		return AlgorithmLz4
	}
	if len(sample) > maxSampleSize {
		sample = sample[:maxSampleSize]
	}

	trial := NewLz4Codec(LevelFastest)
	compressed, err := trial.Compress(sample)
	if err != nil {
		return AlgorithmLz4
	}

	ratio := float64(len(compressed)) / float64(len(sample))
	if ratio < compressibleRatio {
		return AlgorithmZstd
	}
	return AlgorithmLz4
}

// Resolve maps AlgorithmAuto to a concrete algorithm using the sample,
// and returns any other algorithm unchanged.
func Resolve(a Algorithm, sample []byte) Algorithm {
	if a == AlgorithmAuto {
		return AutoSelect(sample)
	}
	return a
}
