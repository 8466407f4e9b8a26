package outfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyNameIsNoOp(t *testing.T) {
	f, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") returned error: %v", err)
	}
	if err := f.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine on no-op sink failed: %v", err)
	}
	if f.Exists() {
		t.Errorf("no-op sink should never report Exists() true")
	}
	if f.Name() != "" {
		t.Errorf("expected empty Name(), got %q", f.Name())
	}
	if err := f.Finish(true); err != nil {
		t.Errorf("Finish on no-op sink failed: %v", err)
	}
}

func TestPlainFileWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.vec")

	f, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Exists() {
		t.Errorf("freshly created file should not Exist() before any WriteLine")
	}
	if err := f.WriteLine("one"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := f.WriteLine("two"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if !f.Exists() {
		t.Errorf("expected Exists() true after writing lines")
	}
	if got := f.LineCount(); got != 2 {
		t.Errorf("expected LineCount 2, got %d", got)
	}
	if err := f.Finish(true); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("got file content %q", string(data))
	}
}

func TestWriteAfterFinishFails(t *testing.T) {
	dir := t.TempDir()
	f, err := New(filepath.Join(dir, "x.vec"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.Finish(true); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.WriteLine("late"); err == nil {
		t.Errorf("expected write-after-close to fail")
	}
}

func TestFinishWithoutCloseLeavesWriterOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "y.vec")
	f, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.WriteLine("first"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := f.Finish(false); err != nil {
		t.Fatalf("Finish(false): %v", err)
	}
	if err := f.WriteLine("second"); err != nil {
		t.Fatalf("expected write to still succeed after non-closing Finish: %v", err)
	}
	if err := f.Finish(true); err != nil {
		t.Fatalf("final Finish: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("got file content %q", string(data))
	}
}

func TestNamePattern(t *testing.T) {
	got := NamePattern("results", true, FlowSuffix(1, 2), ".vec")
	want := "results-active-00000001-0002.vec"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}

	if got := NamePattern("", true, "", ".vec"); got != "" {
		t.Errorf("empty prefix should produce empty name, got %q", got)
	}

	passive := NamePattern("results", false, "", ".scalar.bz2")
	if passive != "results-passive.scalar.bz2" {
		t.Errorf("got %q", passive)
	}
}

func TestNewCreatesParentlessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.out")
	f, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Finish(true)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist immediately after New: %v", err)
	}
}
