package security

import (
	"bytes"
	"encoding/csv"
	"html"
	"strconv"
	"strings"
)

// formulaInjectionPrefixes are the leading characters spreadsheet software
// treats as the start of a formula (spec §4.6 "CSV export").
const formulaInjectionPrefixes = "=+-@|%"

// sanitizeCSVField HTML-escapes a field, replaces CR/LF/TAB with a space,
// and prefixes a leading `'` if the result would otherwise be interpreted
// as a spreadsheet formula.
func sanitizeCSVField(field string) string {
	escaped := html.EscapeString(field)
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	cleaned := replacer.Replace(escaped)
	if cleaned != "" && strings.ContainsRune(formulaInjectionPrefixes, rune(cleaned[0])) {
		cleaned = "'" + cleaned
	}
	return cleaned
}

// EventsToCSV renders events as a sanitized CSV document (spec §4.6, §8).
func EventsToCSV(events []Event) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "event_type", "success", "timestamp", "ip_address", "country", "city", "details", "user_agent"}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, e := range events {
		success := "false"
		if e.Success {
			success = "true"
		}
		row := []string{
			sanitizeCSVField(strconv.FormatInt(e.ID, 10)),
			sanitizeCSVField(e.EventType),
			success,
			sanitizeCSVField(e.Timestamp),
			sanitizeCSVField(e.IPAddress),
			sanitizeCSVField(e.Country),
			sanitizeCSVField(e.City),
			sanitizeCSVField(e.Details),
			sanitizeCSVField(e.UserAgent),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
