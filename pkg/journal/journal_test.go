package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndGet(t *testing.T) {
	j := openTest(t)
	started := time.Unix(1700000000, 42)
	id, err := j.Record(Entry{
		Started:    started,
		SourceHash: "00ff",
		Output:     "5\n",
		Cycles:     12,
		Duration:   3 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a uuid: %v", id, err)
	}

	got, err := j.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := Entry{ID: id, Started: started, SourceHash: "00ff", Output: "5\n", Cycles: 12, Duration: 3 * time.Millisecond}
	if !got.Started.Equal(want.Started) {
		t.Errorf("Started = %v, want %v", got.Started, want.Started)
	}
	got.Started = want.Started
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestRecordKeepsGivenID(t *testing.T) {
	j := openTest(t)
	id, err := j.Record(Entry{ID: "run-1", Fault: "runtime fault"})
	if err != nil || id != "run-1" {
		t.Fatalf("Record() = %q, %v", id, err)
	}
	if _, err := j.Record(Entry{ID: "run-1"}); err == nil {
		t.Error("duplicate id accepted")
	}
	e, err := j.Get("run-1")
	if err != nil || e.Fault != "runtime fault" || e.Started.IsZero() {
		t.Errorf("Get() = %+v, %v", e, err)
	}
}

func TestGetMissing(t *testing.T) {
	j := openTest(t)
	if _, err := j.Get("nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Get() error = %v, want ErrEntryNotFound", err)
	}
}

func TestRecent(t *testing.T) {
	j := openTest(t)
	base := time.Unix(1700000000, 0)
	for i, out := range []string{"a", "b", "c", "d"} {
		if _, err := j.Record(Entry{Started: base.Add(time.Duration(i) * time.Second), Output: out}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.Recent(3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var outs []string
	for _, e := range entries {
		outs = append(outs, e.Output)
	}
	if len(outs) != 3 || outs[0] != "d" || outs[1] != "c" || outs[2] != "b" {
		t.Errorf("Recent(3) outputs = %v, want [d c b]", outs)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := j.Record(Entry{Output: "kept"})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	e, err := j.Get(id)
	if err != nil || e.Output != "kept" {
		t.Errorf("after reopen Get() = %+v, %v", e, err)
	}
}
