package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/market"
)

type captureSink struct{ recs []Record }

func (c *captureSink) Emit(rec Record) { c.recs = append(c.recs, rec) }

func TestFromEvent(t *testing.T) {
	ev := market.Event{
		AssetID:         "A1",
		ConditionID:     "C1",
		Outcome:         "Up",
		Price:           decimal.RequireFromString("0.92"),
		EventSlug:       "bitcoin-up-or-down-august-5-6pm-et",
		TransactionHash: "0xabc",
	}
	rec := FromEvent(ev, BuySkipped, "below_threshold", time.Unix(100, 0))

	if rec.ID == "" {
		t.Error("record id must be set")
	}
	if rec.EventID != "0xabc" || rec.Coin != "bitcoin" || rec.Outcome != "Up" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.URL != "https://polymarket.com/event/bitcoin-up-or-down-august-5-6pm-et" {
		t.Errorf("url = %s", rec.URL)
	}
	if rec.Event != "bitcoin-up-or-down-august-5-6pm-et" {
		t.Errorf("event without title = %q, want slug", rec.Event)
	}

	ev.Title = "Bitcoin Up or Down - August 5, 6PM ET"
	if rec := FromEvent(ev, BuyPlaced, "", time.Unix(100, 0)); rec.Event != "Bitcoin Up Or Down" {
		t.Errorf("event = %q, want formatted title", rec.Event)
	}
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "decisions.jsonl")
	sink, err := NewFileSink(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	capture := &captureSink{}
	multi := Multi{sink, capture, NopSink{}}
	multi.Emit(Record{ID: "1", Decision: BuyPlaced})
	multi.Emit(Record{ID: "2", Decision: BuySkipped, Reason: "no_liquidity"})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if len(capture.recs) != 2 {
		t.Errorf("multi delivered %d records, want 2", len(capture.recs))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != 2 || got[1].Reason != "no_liquidity" {
		t.Errorf("file records = %+v", got)
	}
}

func TestMultiFansOutInOrder(t *testing.T) {
	var order []string
	first := &captureSink{}
	m := Multi{
		first,
		SinkFunc(func(rec Record) { order = append(order, "func:"+rec.ID) }),
		NopSink{},
	}

	m.Emit(Record{ID: "a"})
	m.Emit(Record{ID: "b"})

	if len(first.recs) != 2 {
		t.Fatalf("first sink got %d records, want 2", len(first.recs))
	}
	if len(order) != 2 || order[0] != "func:a" || order[1] != "func:b" {
		t.Errorf("SinkFunc calls = %v", order)
	}
}
