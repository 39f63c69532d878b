package reminder

import (
	"regexp"
	"strings"
	"time"

	"memochat/internal/models"
)

// Instruction tells the model how to emit a reminder directive.
const Instruction = `When the user asks to be reminded of something, append exactly one tag to your reply in the form ` +
	`[REMINDER: "<short description>" AT "<YYYY-MM-DD HH:MM>"] using the user's local time. ` +
	`Do not emit the tag otherwise.`

var tagPattern = regexp.MustCompile(`\[REMINDER:\s*"([^"]+)"\s+AT\s+"([^"]+)"\s*\]`)

// layouts are tried in order.
var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 15:04",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"2 January 2006 15:04",
	"2 Jan 2006 15:04",
	"Monday, January 2, 2006 3:04 PM",
}

// Parse finds the first reminder tag in a completed assistant message.
// Timestamps without a zone are read in loc. A tag whose timestamp does not
// parse yields nothing. Past timestamps are returned as is.
func Parse(text string, loc *time.Location) (*models.ReminderDirective, bool) {
	m := tagPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	description := strings.TrimSpace(m[1])
	if description == "" {
		return nil, false
	}
	due, ok := parseTime(strings.TrimSpace(m[2]), loc)
	if !ok {
		return nil, false
	}
	return &models.ReminderDirective{Description: description, Due: due}, true
}

func parseTime(value string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	// collapse repeated spaces so "Jan  2" style input still matches
	value = strings.Join(strings.Fields(value), " ")
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

