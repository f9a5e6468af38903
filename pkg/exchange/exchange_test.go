package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/crypto"
	"github.com/uhyunpark/updownbot/pkg/market"
	"github.com/uhyunpark/updownbot/pkg/orders"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		price string
		ok    bool
	}{
		{"0.01", true},
		{"0.5", true},
		{"0.98", true},
		{"0.99", false},
		{"1", false},
		{"0.009", false},
		{"0", false},
		{"-0.5", false},
	}
	for _, tt := range tests {
		err := ValidatePrice(d(tt.price))
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePrice(%s) = %v, want ok=%v", tt.price, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("ValidatePrice(%s) error not ErrInvalidPrice: %v", tt.price, err)
		}
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]orders.Status{
		"MATCHED":   orders.StatusMatched,
		"matched":   orders.StatusMatched,
		"FILLED":    orders.StatusMatched,
		"CANCELED":  orders.StatusFailed,
		"EXPIRED":   orders.StatusFailed,
		"LIVE":      orders.StatusPlaced,
		"":          orders.StatusPlaced,
		"SOMETHING": orders.StatusPlaced,
	}
	for in, want := range tests {
		if got := MapStatus(in); got != want {
			t.Errorf("MapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPaperFillsAfterPolls(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(nil, 2)

	res, err := p.PlaceOrder(ctx, "1", d("0.90"), d("5"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != "LIVE" || res.OrderID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	for i, want := range []string{"LIVE", "MATCHED", "MATCHED"} {
		got, err := p.OrderStatus(ctx, res.OrderID)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("poll %d: status = %s, want %s", i+1, got, want)
		}
	}

	if _, err := p.OrderStatus(ctx, "missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestPaperRejectsBadOrders(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(nil, 0)

	if _, err := p.PlaceOrder(ctx, "1", d("0.99"), d("5")); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := p.PlaceOrder(ctx, "1", d("0.5"), d("0")); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	if p.Orders() != 0 {
		t.Errorf("rejected orders must not be recorded, have %d", p.Orders())
	}

	res, err := p.Sell(ctx, "1", d("0.456"), d("5"))
	if err != nil || res.Status != "MATCHED" {
		t.Errorf("sell = %+v, %v", res, err)
	}
}

func TestPaperBook(t *testing.T) {
	p := NewPaper(nil, 0)
	p.SetBook("1", market.Book{Bids: []market.Level{{Price: d("0.9"), Size: d("10")}}})

	book, err := p.Book(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if book.AssetID != "1" || len(book.Bids) != 1 {
		t.Errorf("unexpected book %+v", book)
	}
}

func newTestClient(t *testing.T, h http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	creds := Credentials{
		Key:        "key",
		Secret:     base64.URLEncoding.EncodeToString([]byte("secret")),
		Passphrase: "pass",
	}
	c := NewRESTClient(srv.URL, 100, signer, creds, zap.NewNop().Sugar())
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestRESTBook(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "123" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"asset_id":"123","bids":[{"price":"0.89","size":"100"},{"price":"0.91","size":"5"}],"asks":[]}`)
	}))

	book, err := c.Book(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	bid, ok := book.BestBid()
	if !ok || !bid.Equal(d("0.91")) {
		t.Errorf("best bid = %s, %v", bid, ok)
	}
	if len(book.Asks) != 0 {
		t.Errorf("asks = %v", book.Asks)
	}
}

func TestRESTOrderStatusSignsL2(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte("1700000000" + "GET" + "/data/order/abc"))
		want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

		if r.Header.Get("POLY_SIGNATURE") != want || r.Header.Get("POLY_API_KEY") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"id":"abc","status":"MATCHED"}`)
	}))

	status, err := c.OrderStatus(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if status != "MATCHED" {
		t.Errorf("status = %s", status)
	}
}

func TestRESTOrderStatusNeedsCredentials(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	c.Creds = Credentials{}
	if _, err := c.OrderStatus(context.Background(), "abc"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestRESTPlaceOrder(t *testing.T) {
	var got OrderRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"success":true,"orderID":"0xabc","status":"live"}`)
	}))

	res, err := c.PlaceOrder(context.Background(), "123", d("0.90"), d("5"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID != "0xabc" {
		t.Errorf("order id = %s", res.OrderID)
	}

	tests := []struct {
		name, got, want string
	}{
		{"side", got.Order.Side, "BUY"},
		{"makerAmount", got.Order.MakerAmount, "4500000"},
		{"takerAmount", got.Order.TakerAmount, "5000000"},
		{"tokenId", got.Order.TokenID, "123"},
		{"owner", got.Owner, "key"},
		{"orderType", got.OrderType, "GTC"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if got.Order.Signature == "" {
		t.Error("order must be signed")
	}
}

func TestRESTSellSwapsAmounts(t *testing.T) {
	var got OrderRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"success":true,"orderID":"0xdef","status":"matched"}`)
	}))

	if _, err := c.Sell(context.Background(), "123", d("0.456"), d("5")); err != nil {
		t.Fatal(err)
	}
	if got.Order.Side != "SELL" || got.Order.MakerAmount != "5000000" || got.Order.TakerAmount != "2300000" {
		t.Errorf("unexpected sell order %+v", got.Order)
	}
}

func TestRESTPlaceOrderRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"errorMsg":"not enough balance"}`)
	}))

	_, err := c.PlaceOrder(context.Background(), "123", d("0.90"), d("5"))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestRESTHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := c.Book(context.Background(), "123"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestRESTDeriveAPIKey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" || r.Header.Get("POLY_NONCE") != "0" || r.Header.Get("POLY_SIGNATURE") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"apiKey":"k2","secret":"czI=","passphrase":"p2"}`)
	}))
	c.Creds = Credentials{}

	creds, err := c.DeriveAPIKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Key != "k2" || c.Creds.Passphrase != "p2" {
		t.Errorf("unexpected creds %+v", c.Creds)
	}
}
