package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/ashureev/chatdesk/internal/textnorm"
)

var datePattern = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})(?:[./](\d{4}|\d{2}))?`)

var relativeDays = map[string]int{
	"сегодня":     0,
	"today":       0,
	"завтра":      1,
	"tomorrow":    1,
	"послезавтра": 2,
}

// ParseDate finds a calendar date in text: "dd.mm", "dd.mm.yy",
// "dd.mm.yyyy", "dd/mm" or a relative word such as "завтра". A date
// without a year that already passed this year is taken as next year.
// The result is midnight in now's location.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	folded := textnorm.Fold(text)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := datePattern.FindStringSubmatch(folded); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, false
		}
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
		// time.Date normalizes 31.02 into March; reject instead.
		if d.Day() != day {
			return time.Time{}, false
		}
		if m[3] == "" && d.Before(today) {
			d = d.AddDate(1, 0, 0)
		}
		return d, true
	}

	for _, tok := range textnorm.Tokens(folded) {
		if offset, ok := relativeDays[tok]; ok {
			return today.AddDate(0, 0, offset), true
		}
	}
	return time.Time{}, false
}
