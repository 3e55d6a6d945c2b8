package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/memtrace/memexport/pkg/model"
)

func testSnapshot() *model.UnifiedData {
	cs := model.CallStack{Frames: []model.StackFrame{
		{Function: "main.alloc", File: "main.go", Line: 10},
	}}
	cs.Hash = cs.ComputeHash()
	return &model.UnifiedData{
		Records: []model.AllocationRecord{
			{ID: 1, Size: 64, TypeName: "Buffer", Timestamp: 100, ThreadID: 1, StackHash: cs.Hash},
			{ID: 2, Size: 128, TypeName: "Node", Timestamp: 200, ThreadID: 2},
		},
		Stacks: map[uint64]model.CallStack{cs.Hash: cs},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	u := testSnapshot()

	var buf bytes.Buffer
	if err := NewWriter().Write(u, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !reflect.DeepEqual(u, got) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, u)
	}
}

func TestPrettyWriterIndents(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrettyWriter().Write(testSnapshot(), &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("pretty output is not indented")
	}
}

func TestWriteFilePlainAndGzip(t *testing.T) {
	u := testSnapshot()
	tmpDir := t.TempDir()

	for _, name := range []string{"snap.json", "snap.json.gz"} {
		path := filepath.Join(tmpDir, name)
		if err := NewWriter().WriteFile(u, path); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", name, err)
		}

		got, err := ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
		if !reflect.DeepEqual(u, got) {
			t.Errorf("%s: round trip mismatch", name)
		}
	}
}

func TestGzipFileIsCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json.gz")
	if err := NewWriter().WriteFile(testSnapshot(), path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Error("file does not start with the gzip magic")
	}
}

func TestReadFillsMissingStackHash(t *testing.T) {
	in := `{"records":[],"stacks":{"7":{"frames":[{"function":"f"}]}}}`
	u, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := u.Stacks[7].Hash; got != 7 {
		t.Errorf("stack hash = %d, want 7", got)
	}
}

func TestReadGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("not json")); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
