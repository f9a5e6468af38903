package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/updownbot/pkg/market"
)

var ErrUnknownOrder = errors.New("unknown order")

type BookSource interface {
	Book(ctx context.Context, assetID string) (market.Book, error)
}

type paperOrder struct {
	assetID string
	side    string
	price   decimal.Decimal
	size    decimal.Decimal
	polls   int
}

// Paper is an in-process venue. Orders rest as LIVE until they have been
// polled FillAfter times, then report MATCHED. Books come from Books when
// set, otherwise from SetBook.
type Paper struct {
	Books     BookSource
	FillAfter int

	mu     sync.Mutex
	orders map[string]*paperOrder
	books  map[string]market.Book
}

func NewPaper(books BookSource, fillAfter int) *Paper {
	return &Paper{
		Books:     books,
		FillAfter: fillAfter,
		orders:    make(map[string]*paperOrder),
		books:     make(map[string]market.Book),
	}
}

func (p *Paper) SetBook(assetID string, book market.Book) {
	p.mu.Lock()
	p.books[assetID] = book
	p.mu.Unlock()
}

func (p *Paper) Book(ctx context.Context, assetID string) (market.Book, error) {
	if p.Books != nil {
		return p.Books.Book(ctx, assetID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	book := p.books[assetID]
	book.AssetID = assetID
	return book, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error) {
	return p.submit(assetID, "BUY", price, size)
}

// Sell fills immediately; exits never rest on the paper book.
func (p *Paper) Sell(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error) {
	res, err := p.submit(assetID, "SELL", price.Round(2), size)
	if err == nil {
		res.Status = "MATCHED"
	}
	return res, err
}

func (p *Paper) submit(assetID, side string, price, size decimal.Decimal) (PlaceResult, error) {
	if err := ValidatePrice(price); err != nil {
		return PlaceResult{Success: false, ErrorMsg: err.Error()}, err
	}
	if !size.IsPositive() {
		return PlaceResult{Success: false, ErrorMsg: "size must be positive"}, fmt.Errorf("%w: size %s", ErrRejected, size)
	}

	id := "paper-" + uuid.NewString()
	p.mu.Lock()
	p.orders[id] = &paperOrder{assetID: assetID, side: side, price: price, size: size}
	p.mu.Unlock()

	status := "LIVE"
	if p.FillAfter <= 0 {
		status = "MATCHED"
	}
	return PlaceResult{Success: true, OrderID: id, Status: status}, nil
}

func (p *Paper) OrderStatus(ctx context.Context, orderID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	o.polls++
	if o.polls >= p.FillAfter {
		return "MATCHED", nil
	}
	return "LIVE", nil
}

// Orders returns the number of orders submitted so far
func (p *Paper) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

var _ Exchange = (*Paper)(nil)
