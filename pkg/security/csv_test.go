package security

import (
	"encoding/csv"
	"strings"
	"testing"
)

func TestSanitizeCSVField_PrefixesFormulaInjection(t *testing.T) {
	cases := []struct{ in, want string }{
		{"=cmd|'/c calc'", "'=cmd|&#39;/c calc&#39;"},
		{"+1", "'+1"},
		{"-1", "'-1"},
		{"@SUM(A1)", "'@SUM(A1)"},
		{"%encoded", "'%encoded"},
		{"ordinary text", "ordinary text"},
	}
	for _, c := range cases {
		if got := sanitizeCSVField(c.in); got != c.want {
			t.Errorf("sanitizeCSVField(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeCSVField_ReplacesControlChars(t *testing.T) {
	got := sanitizeCSVField("line one\r\nline two\tend")
	if strings.ContainsAny(got, "\r\n\t") {
		t.Errorf("expected control characters replaced, got %q", got)
	}
}

func TestEventsToCSV_RoundTripsFieldCount(t *testing.T) {
	events := []Event{
		{ID: 1, EventType: EventLoginAttempt, Success: true, Timestamp: "2026-01-01T00:00:00Z", IPAddress: "203.0.113.1"},
		{ID: 2, EventType: "=evil()", Success: false, Timestamp: "2026-01-02T00:00:00Z"},
	}
	out, err := EventsToCSV(events)
	if err != nil {
		t.Fatalf("EventsToCSV: %v", err)
	}

	reader := csv.NewReader(strings.NewReader(out))
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("parsing generated CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d rows", len(rows))
	}
	for _, row := range rows {
		if len(row) != 9 {
			t.Errorf("expected 9 fields per row, got %d: %v", len(row), row)
		}
	}
	if !strings.HasPrefix(rows[2][1], "'") {
		t.Errorf("expected formula-like event_type prefixed with ', got %q", rows[2][1])
	}
}
