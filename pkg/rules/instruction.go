package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/market"
)

// Flags tune how an Instruction matches events
type Flags struct {
	// CurrentHourOnly requires the market title's "Month D, HAM/PM ET" stamp
	// to be the current hour in the matcher's timezone.
	CurrentHourOnly bool `json:"currentHourOnly"`
	Disabled        bool `json:"disabled"`
}

// Instruction is the per-market-class trading configuration
type Instruction struct {
	Title             string          `json:"title"`
	MatchSlug         string          `json:"matchSlug"`
	OrderSize         decimal.Decimal `json:"orderSize"`
	BuyPriceThreshold decimal.Decimal `json:"buyPriceThreshold"`
	MinutesOffset     int             `json:"minutesOffset"`
	Flags             Flags           `json:"flags"`
}

// Matcher selects the Instruction an event belongs to
type Matcher struct {
	instructions []Instruction
	loc          *time.Location
}

func NewMatcher(instructions []Instruction, loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Instruction, len(instructions))
	copy(out, instructions)
	return &Matcher{instructions: out, loc: loc}
}

// Instructions returns a copy of the loaded instructions
func (m *Matcher) Instructions() []Instruction {
	out := make([]Instruction, len(m.instructions))
	copy(out, m.instructions)
	return out
}

func (m *Matcher) Location() *time.Location { return m.loc }

// Match returns the first enabled instruction whose MatchSlug occurs in the
// event's slug, event slug, or slugified title (case-insensitive).
func (m *Matcher) Match(ev market.Event, now time.Time) (Instruction, Reason) {
	candidates := []string{
		strings.ToLower(ev.Slug),
		strings.ToLower(ev.EventSlug),
		market.Slugify(ev.Title),
	}

	for _, in := range m.instructions {
		if in.Flags.Disabled || in.MatchSlug == "" {
			continue
		}
		needle := strings.ToLower(in.MatchSlug)
		for _, hay := range candidates {
			if hay == "" || !strings.Contains(hay, needle) {
				continue
			}
			if in.Flags.CurrentHourOnly && !market.IsCurrentHour(ev.Title, m.loc, now) {
				return in, ReasonNotCurrentHour
			}
			return in, ReasonOK
		}
	}
	return Instruction{}, ReasonNoInstruction
}
