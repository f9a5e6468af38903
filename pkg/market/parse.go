package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed market event")

var (
	one = decimal.NewFromInt(1)

	titleTimeRe = regexp.MustCompile(`(?i)([A-Za-z]+) (\d{1,2}), (\d{1,2})(AM|PM) ET`)
)

// ParseTrade normalizes an activity/trades payload into an Event.
func ParseTrade(payload json.RawMessage) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.AssetID == "" {
		return Event{}, fmt.Errorf("%w: missing asset", ErrMalformed)
	}
	if ev.ConditionID == "" {
		return Event{}, fmt.Errorf("%w: missing conditionId", ErrMalformed)
	}
	if ev.Price.IsNegative() || ev.Price.GreaterThan(one) {
		return Event{}, fmt.Errorf("%w: price %s outside [0,1]", ErrMalformed, ev.Price)
	}
	ev.Side = Side(strings.ToUpper(string(ev.Side)))
	return ev, nil
}

// CoinFromSlug returns the first dash-separated segment of an event slug,
// e.g. "bitcoin-up-or-down-august-5-6pm-et" -> "bitcoin".
func CoinFromSlug(eventSlug string) string {
	coin, _, _ := strings.Cut(eventSlug, "-")
	return coin
}

func EventURL(eventSlug string) string {
	if eventSlug == "" {
		return ""
	}
	return "https://polymarket.com/event/" + eventSlug
}

// FormatTitle drops the " - <date>" suffix and title-cases each word:
// "bitcoin up or down - August 5, 6PM ET" -> "Bitcoin Up Or Down".
func FormatTitle(title string) string {
	base, _, _ := strings.Cut(title, " - ")
	words := strings.Fields(strings.ToLower(base))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Slugify lowercases and dash-joins the words of s.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// TitleHour extracts the "Month D, HAM/PM ET" stamp from a market title and
// returns the start of that hour in loc. The year is taken from ref.
func TitleHour(title string, loc *time.Location, ref time.Time) (time.Time, bool) {
	m := titleTimeRe.FindStringSubmatch(title)
	if m == nil {
		return time.Time{}, false
	}
	month, err := time.Parse("January", m[1])
	if err != nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	if hour < 1 || hour > 12 {
		return time.Time{}, false
	}
	hour %= 12
	if strings.EqualFold(m[4], "PM") {
		hour += 12
	}
	ref = ref.In(loc)
	return time.Date(ref.Year(), month.Month(), day, hour, 0, 0, 0, loc), true
}

// IsCurrentHour reports whether the title's hour stamp matches now in loc.
func IsCurrentHour(title string, loc *time.Location, now time.Time) bool {
	start, ok := TitleHour(title, loc, now)
	if !ok {
		return false
	}
	return !now.Before(start) && now.Before(start.Add(time.Hour))
}
