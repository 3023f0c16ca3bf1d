package cli

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/harrisonrobin/calsync/pkg/model"
)

var (
	parser = newParser()

	clockRegex = regexp.MustCompile(`(?i)\d{1,2}\s*(:\s*\d{2})?\s*([ap]\.?\s*m\.?)|\d{1,2}:\d{2}|\bnoon\b|\bmidnight\b`)
)

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseWhen turns phrases like "tomorrow" or "friday at 3pm" into a date
// and, if the phrase names one, a time of day.
func parseWhen(text string, now time.Time) (date, clock string, err error) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation(model.DateLayout, text, now.Location()); err == nil {
		return t.Format(model.DateLayout), "", nil
	}

	r, err := parser.Parse(text, now)
	if err != nil {
		return "", "", fmt.Errorf("could not parse %q: %w", text, err)
	}
	if r == nil {
		return "", "", fmt.Errorf("could not understand date %q", text)
	}
	date = r.Time.Format(model.DateLayout)
	if clockRegex.MatchString(r.Text) {
		clock = r.Time.Format(model.ClockLayout)
	}
	return date, clock, nil
}
