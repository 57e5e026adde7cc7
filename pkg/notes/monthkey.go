package notes

import (
	"fmt"
	"time"
)

// monthKeyLayout is "YYYY-MM". Month keys sort lexically in chronological
// order, so plain string comparison answers "before/after/equal".
const monthKeyLayout = "2006-01"

func parseMonthKey(mk string) (time.Time, error) {
	t, err := time.Parse(monthKeyLayout, mk)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month key %q: %w", mk, err)
	}
	return t, nil
}

func addMonths(mk string, n int) (string, error) {
	t, err := parseMonthKey(mk)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, n, 0).Format(monthKeyLayout), nil
}

// monthsInRange returns the consecutive month keys [from, to), excluding to.
func monthsInRange(from, to string) ([]string, error) {
	cur, err := parseMonthKey(from)
	if err != nil {
		return nil, err
	}
	end, err := parseMonthKey(to)
	if err != nil {
		return nil, err
	}
	var out []string
	for cur.Before(end) {
		out = append(out, cur.Format(monthKeyLayout))
		cur = cur.AddDate(0, 1, 0)
	}
	return out, nil
}
