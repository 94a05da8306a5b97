package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/pypeaday/soonish/internal/store"
)

// ComposeMessage builds the reminder's title/body from the offset and
// current event details (spec.md §4.7 step 2). Pure and I/O-free, so it
// is testable without a clock or store — ported from the original's
// notification_builder.py composition rules rather than translated line
// by line.
func ComposeMessage(ev *store.Event, offsetSeconds int64) (title, body string) {
	title = fmt.Sprintf("Reminder: %s %s", ev.Name, offsetPhrase(offsetSeconds))

	var lines []string
	lines = append(lines, fmt.Sprintf("%s starts %s.", ev.Name, offsetPhrase(offsetSeconds)))
	if ev.Location != nil && *ev.Location != "" {
		lines = append(lines, "Location: "+*ev.Location)
	}
	lines = append(lines, "Starts at: "+ev.StartDate.UTC().Format(time.RFC3339))
	body = strings.Join(lines, "\n")
	return title, body
}

// offsetPhrase buckets an offset per spec.md §4.7 step 2: days if >=
// 86400s, hours if >= 3600s, else minutes.
func offsetPhrase(offsetSeconds int64) string {
	switch {
	case offsetSeconds >= 86400:
		days := offsetSeconds / 86400
		return fmt.Sprintf("in %d day%s", days, plural(days))
	case offsetSeconds >= 3600:
		hours := offsetSeconds / 3600
		return fmt.Sprintf("in %d hour%s", hours, plural(hours))
	default:
		minutes := offsetSeconds / 60
		return fmt.Sprintf("in %d minute%s", minutes, plural(minutes))
	}
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
