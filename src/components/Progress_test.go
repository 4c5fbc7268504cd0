package components

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressPrintsEveryTenPoints(t *testing.T) {
	var out bytes.Buffer
	progress := NewProgress(&out)

	for current := int64(0); current <= 1000; current += 10 {
		progress.Update(current, 1000)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\r"), "\r")
	// 11%, 22%, ... 99%, then 100%.
	expected := []string{
		"Indexing: 11.00%",
		"Indexing: 22.00%",
		"Indexing: 33.00%",
		"Indexing: 44.00%",
		"Indexing: 55.00%",
		"Indexing: 66.00%",
		"Indexing: 77.00%",
		"Indexing: 88.00%",
		"Indexing: 99.00%",
		"Indexing: 100.00%",
	}
	if len(lines) != len(expected) {
		t.Fatalf("expected %d progress lines, got %d: %q", len(expected), len(lines), out.String())
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Fatalf("line %d: expected %q, got %q", i, expected[i], lines[i])
		}
	}
}

func TestProgressAlwaysPrintsCompletion(t *testing.T) {
	var out bytes.Buffer
	progress := NewProgress(&out)

	progress.Update(1000, 1000)
	progress.Update(1000, 1000)

	if got := strings.Count(out.String(), "Indexing: 100.00%\r"); got != 2 {
		t.Fatalf("expected completion to be printed twice, got %d: %q", got, out.String())
	}
}

func TestProgressZeroTotal(t *testing.T) {
	var out bytes.Buffer
	progress := NewProgress(&out)

	progress.Update(0, 0)
	if out.String() != "Indexing: 100.00%\r" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestProgressDone(t *testing.T) {
	var out bytes.Buffer
	progress := NewProgress(&out)

	progress.Done()
	if out.Len() != 0 {
		t.Fatalf("expected no output before any update, got %q", out.String())
	}

	progress.Update(5, 10)
	progress.Done()
	if !strings.HasSuffix(out.String(), "\r\n") {
		t.Fatalf("expected the progress line to be terminated, got %q", out.String())
	}
}
