package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

// structured layouts tried before falling back to natural language parsing.
var timeLayouts = []string{
	models.TimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"01/02/2006 15:04",
	"Jan 2 2006 15:04",
	"15:04",
}

// timeParser recognizes English natural-language dates ("tomorrow 9am").
var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseReminderTime normalizes free-form date/time input to the storage
// format, truncated to the minute. Bare times ("15:04") resolve against
// now's date. Returns an error when no candidate is recognized.
func ParseReminderTime(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("bot: empty time input")
	}

	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, text, now.Location())
		if err != nil {
			continue
		}
		// Layouts without a date component parse to year 0.
		if t.Year() == 0 {
			t = time.Date(now.Year(), now.Month(), now.Day(),
				t.Hour(), t.Minute(), 0, 0, now.Location())
		}
		return models.FormatTime(t), nil
	}

	r, err := timeParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("bot: parse time %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("bot: unrecognized time %q", text)
	}
	return models.FormatTime(r.Time), nil
}
