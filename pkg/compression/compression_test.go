package compression

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

var sampleText = []byte("Hello, World! This is a test string for compression. " +
	"Call stacks repeat: alloc::vec::grow alloc::vec::grow alloc::vec::grow")

func roundTrip(t *testing.T, c Codec, original []byte) {
	t.Helper()

	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("Decompressed data doesn't match original")
	}
}

func TestZstdCodec(t *testing.T) {
	c, err := NewZstdCodec(LevelDefault)
	if err != nil {
		t.Fatalf("Failed to create zstd codec: %v", err)
	}
	defer c.Close()

	roundTrip(t, c, sampleText)

	if c.Algorithm() != AlgorithmZstd {
		t.Errorf("Expected AlgorithmZstd, got %v", c.Algorithm())
	}
	if c.Name() != "zstd" {
		t.Errorf("Expected 'zstd', got %s", c.Name())
	}
}

func TestLz4Codec(t *testing.T) {
	c := NewLz4Codec(LevelFastest)

	roundTrip(t, c, sampleText)

	if c.Algorithm() != AlgorithmLz4 {
		t.Errorf("Expected AlgorithmLz4, got %v", c.Algorithm())
	}
}

func TestGzipCodec(t *testing.T) {
	c := NewGzipCodec(LevelDefault)
	roundTrip(t, c, sampleText)
	if c.Name() != "gzip" {
		t.Errorf("Expected 'gzip', got %s", c.Name())
	}
}

func TestNoOpCodec(t *testing.T) {
	c := NewNoOpCodec()

	compressed, err := c.Compress(sampleText)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !bytes.Equal(sampleText, compressed) {
		t.Error("NoOp codec should return data unchanged")
	}
}

func TestNewByAlgorithm(t *testing.T) {
	for _, a := range []Algorithm{AlgorithmNone, AlgorithmLz4, AlgorithmZstd, AlgorithmGzip} {
		c, err := New(a, LevelDefault)
		if err != nil {
			t.Fatalf("New(%v) failed: %v", a, err)
		}
		if c.Algorithm() != a {
			t.Errorf("New(%v) returned codec for %v", a, c.Algorithm())
		}
		Close(c)
	}

	if _, err := New(AlgorithmAuto, LevelDefault); err == nil {
		t.Error("New(AlgorithmAuto) should fail; auto must be resolved first")
	}
}

func TestStreamingRoundTrip(t *testing.T) {
	for _, a := range []Algorithm{AlgorithmNone, AlgorithmLz4, AlgorithmZstd, AlgorithmGzip} {
		c, err := New(a, LevelDefault)
		if err != nil {
			t.Fatalf("New(%v): %v", a, err)
		}

		var buf bytes.Buffer
		w := c.NewWriter(&buf)
		// Write in several pieces to exercise the streaming path.
		for i := 0; i < 10; i++ {
			if _, err := w.Write(sampleText); err != nil {
				t.Fatalf("%v streaming write: %v", a, err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%v streaming close: %v", a, err)
		}

		r, err := c.NewReader(&buf)
		if err != nil {
			t.Fatalf("%v reader: %v", a, err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%v streaming read: %v", a, err)
		}
		r.Close()

		want := bytes.Repeat(sampleText, 10)
		if !bytes.Equal(out, want) {
			t.Errorf("%v streaming round trip mismatch: got %d bytes, want %d", a, len(out), len(want))
		}
		Close(c)
	}
}

func TestParseAlgorithm(t *testing.T) {
	cases := map[string]Algorithm{
		"none": AlgorithmNone,
		"":     AlgorithmNone,
		"lz4":  AlgorithmLz4,
		"zstd": AlgorithmZstd,
		"gzip": AlgorithmGzip,
		"auto": AlgorithmAuto,
	}
	for in, want := range cases {
		got, err := ParseAlgorithm(in)
		if err != nil {
			t.Errorf("ParseAlgorithm(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseAlgorithm("brotli"); err == nil {
		t.Error("unknown algorithm should fail to parse")
	}
}

func TestAutoSelectRepetitive(t *testing.T) {
	// 1MB of a repeated 16-byte pattern compresses extremely well.
	pattern := []byte("0123456789abcdef")
	repetitive := bytes.Repeat(pattern, 65536)

	if got := AutoSelect(repetitive); got != AlgorithmZstd {
		t.Errorf("AutoSelect(repetitive) = %v, want zstd", got)
	}
}

func TestAutoSelectRandom(t *testing.T) {
	random := make([]byte, 64*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if got := AutoSelect(random); got != AlgorithmLz4 {
		t.Errorf("AutoSelect(random) = %v, want lz4", got)
	}
}

func TestAutoSelectEmpty(t *testing.T) {
	if got := AutoSelect(nil); got != AlgorithmLz4 {
		t.Errorf("AutoSelect(nil) = %v, want lz4", got)
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve(AlgorithmZstd, nil); got != AlgorithmZstd {
		t.Errorf("Resolve should pass concrete algorithms through, got %v", got)
	}
	if got := Resolve(AlgorithmAuto, bytes.Repeat([]byte("ab"), 4096)); got != AlgorithmZstd {
		t.Errorf("Resolve(auto, repetitive) = %v, want zstd", got)
	}
}
