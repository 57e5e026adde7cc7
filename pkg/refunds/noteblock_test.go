package refunds

import (
	"strings"
	"testing"
)

func TestAppendNoteBlock_StripsPriorBlockBeforeAppending(t *testing.T) {
	amount := 9.99
	first := buildRefundNote(&amount, "Coffee Shop", "2026-01-05", "Checking")
	withFirst := appendNoteBlock("grabbed coffee", first)

	second := buildRefundNote(&amount, "Coffee Shop", "2026-02-10", "Checking")
	withSecond := appendNoteBlock(withFirst, second)

	if strings.Count(withSecond, matchedMarker) != 1 {
		t.Errorf("expected exactly one sentinel block, got notes = %q", withSecond)
	}
	if !strings.Contains(withSecond, "2/10/2026") {
		t.Errorf("expected the newest block's date to survive, got %q", withSecond)
	}
	if !strings.Contains(withSecond, "grabbed coffee") {
		t.Errorf("expected the original note body to survive, got %q", withSecond)
	}
}

func TestStripRefundNotes_CollapsesBlankLines(t *testing.T) {
	amount := 5.0
	block := buildExpectedRefundNote(&amount, "2026-01-01", "Checking", "")
	notes := "line one\n\n\n\n" + block

	stripped := stripRefundNotes(notes)
	if strings.Contains(stripped, expectedMarker) {
		t.Errorf("expected sentinel block removed, got %q", stripped)
	}
	if strings.Contains(stripped, "\n\n\n") {
		t.Errorf("expected blank line runs collapsed, got %q", stripped)
	}
}

func TestFormatRefundDate_NoZeroPadding(t *testing.T) {
	got := formatRefundDate("2026-03-05")
	if got != "3/5/2026" {
		t.Errorf("formatRefundDate = %q, want 3/5/2026", got)
	}
}
