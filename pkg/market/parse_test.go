package market

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseTrade(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid numeric price",
			payload: `{"asset":"A1","conditionId":"C1","outcome":"Up","price":0.92,"size":10,"side":"buy","slug":"bitcoin-up-or-down","timestamp":1723000000}`,
		},
		{
			name:    "valid string price",
			payload: `{"asset":"A1","conditionId":"C1","price":"0.5"}`,
		},
		{name: "missing asset", payload: `{"conditionId":"C1","price":0.5}`, wantErr: true},
		{name: "missing condition", payload: `{"asset":"A1","price":0.5}`, wantErr: true},
		{name: "price above one", payload: `{"asset":"A1","conditionId":"C1","price":1.2}`, wantErr: true},
		{name: "negative price", payload: `{"asset":"A1","conditionId":"C1","price":-0.1}`, wantErr: true},
		{name: "not an object", payload: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseTrade(json.RawMessage(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.AssetID != "A1" {
				t.Errorf("asset = %s, want A1", ev.AssetID)
			}
		})
	}
}

func TestParseTradeNormalizesSide(t *testing.T) {
	ev, err := ParseTrade(json.RawMessage(`{"asset":"A1","conditionId":"C1","price":0.9,"side":"sell"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Side != SideSell {
		t.Errorf("side = %s, want SELL", ev.Side)
	}
}

func TestOpportunityKey(t *testing.T) {
	ev := Event{AssetID: "A1", ConditionID: "C1", Price: decimal.RequireFromString("0.9")}
	op := ev.Opportunity(time.Unix(0, 0))
	if op.Key() != "C1:A1" {
		t.Errorf("key = %s, want C1:A1", op.Key())
	}
}

func TestBookBest(t *testing.T) {
	book := Book{
		Bids: []Level{{Price: decimal.RequireFromString("0.01")}, {Price: decimal.RequireFromString("0.90")}, {Price: decimal.RequireFromString("0.85")}},
		Asks: []Level{{Price: decimal.RequireFromString("0.99")}, {Price: decimal.RequireFromString("0.92")}},
	}
	bid, ok := book.BestBid()
	if !ok || !bid.Equal(decimal.RequireFromString("0.90")) {
		t.Errorf("best bid = %s, want 0.90", bid)
	}
	ask, ok := book.BestAsk()
	if !ok || !ask.Equal(decimal.RequireFromString("0.92")) {
		t.Errorf("best ask = %s, want 0.92", ask)
	}
	if (Book{Asks: book.Asks}).Empty() != true {
		t.Error("book without bids should be empty")
	}
}

func TestSlugHelpers(t *testing.T) {
	if got := CoinFromSlug("bitcoin-up-or-down-august-5-6pm-et"); got != "bitcoin" {
		t.Errorf("coin = %s", got)
	}
	titles := map[string]string{
		"bitcoin up or down - August 5, 6PM ET": "Bitcoin Up Or Down",
		"élan vital":                            "Élan Vital",
		"  xrp   up ":                           "Xrp Up",
		"":                                      "",
	}
	for in, want := range titles {
		if got := FormatTitle(in); got != want {
			t.Errorf("FormatTitle(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Slugify("Bitcoin Up or Down - August 5, 6PM ET"); got != "bitcoin-up-or-down-august-5-6pm-et" {
		t.Errorf("slug = %q", got)
	}
	if got := EventURL("xrp-up"); got != "https://polymarket.com/event/xrp-up" {
		t.Errorf("url = %q", got)
	}
}

func TestIsCurrentHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	title := "Solana Up or Down - August 5, 6PM ET"

	tests := []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2025, time.August, 5, 18, 0, 0, 0, loc), true},
		{time.Date(2025, time.August, 5, 18, 59, 0, 0, loc), true},
		{time.Date(2025, time.August, 5, 19, 0, 0, 0, loc), false},
		{time.Date(2025, time.August, 5, 6, 30, 0, 0, loc), false},
		{time.Date(2025, time.August, 6, 18, 30, 0, 0, loc), false},
	}
	for _, tt := range tests {
		if got := IsCurrentHour(title, loc, tt.now); got != tt.want {
			t.Errorf("IsCurrentHour(%s) = %v, want %v", tt.now, got, tt.want)
		}
	}

	if IsCurrentHour("no stamp here", loc, time.Now()) {
		t.Error("title without stamp should not match")
	}

	noon, _ := TitleHour("XRP Up or Down - March 1, 12PM ET", loc, time.Date(2025, 3, 1, 0, 0, 0, 0, loc))
	if noon.Hour() != 12 {
		t.Errorf("12PM parsed as hour %d", noon.Hour())
	}
	midnight, _ := TitleHour("XRP Up or Down - March 1, 12AM ET", loc, time.Date(2025, 3, 1, 0, 0, 0, 0, loc))
	if midnight.Hour() != 0 {
		t.Errorf("12AM parsed as hour %d", midnight.Hour())
	}
}
