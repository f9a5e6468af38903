package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/updownbot/pkg/crypto"
	"github.com/uhyunpark/updownbot/pkg/market"
)

var ErrNoCredentials = errors.New("L2 API credentials not configured")

// Credentials are the venue's L2 API key triple
type Credentials struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

func (c Credentials) Empty() bool { return c.Key == "" || c.Secret == "" || c.Passphrase == "" }

// RESTClient talks to the order book venue over HTTP. Book is public;
// orders and order status need a signer and L2 credentials.
type RESTClient struct {
	Host    string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Signer  *crypto.Signer
	Creds   Credentials
	ChainID int64
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

// NewRESTClient builds a client limited to rps requests per second
func NewRESTClient(host string, rps float64, signer *crypto.Signer, creds Credentials, logger *zap.SugaredLogger) *RESTClient {
	if rps <= 0 {
		rps = 5
	}
	return &RESTClient{
		Host:    host,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), 1),
		Signer:  signer,
		Creds:   creds,
		ChainID: crypto.PolygonChainID,
		Logger:  logger,
		Now:     time.Now,
	}
}

// Book fetches the order book for an asset. Empty sides are returned as
// empty slices, not an error.
func (c *RESTClient) Book(ctx context.Context, assetID string) (market.Book, error) {
	path := "/book?token_id=" + url.QueryEscape(assetID)
	var book market.Book
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &book); err != nil {
		return market.Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = assetID
	}
	return book, nil
}

// OrderStatus returns the venue's raw status string for an order
func (c *RESTClient) OrderStatus(ctx context.Context, orderID string) (string, error) {
	path := "/data/order/" + url.PathEscape(orderID)
	headers, err := c.l2Headers(http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, headers, &resp); err != nil {
		return "", fmt.Errorf("failed to get order status: %w", err)
	}
	return resp.Status, nil
}

func (c *RESTClient) PlaceOrder(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error) {
	return c.post(ctx, assetID, crypto.SideBuy, price, size)
}

func (c *RESTClient) Sell(ctx context.Context, assetID string, price, size decimal.Decimal) (PlaceResult, error) {
	return c.post(ctx, assetID, crypto.SideSell, price.Round(2), size)
}

// DeriveAPIKey exchanges an L1 wallet signature for the L2 credentials
// bound to the signer's address, and installs them on the client.
func (c *RESTClient) DeriveAPIKey(ctx context.Context) (Credentials, error) {
	if c.Signer == nil {
		return Credentials{}, errors.New("signer required to derive API key")
	}
	ts := strconv.FormatInt(c.Now().Unix(), 10)
	sig, err := c.Signer.SignClobAuth(ts, 0, c.ChainID)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to sign auth: %w", err)
	}
	headers := map[string]string{
		"POLY_ADDRESS":   c.Signer.Address().Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": ts,
		"POLY_NONCE":     "0",
	}

	var creds Credentials
	if err := c.do(ctx, http.MethodGet, "/auth/derive-api-key", nil, headers, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to derive api key: %w", err)
	}
	c.Creds = creds
	return creds, nil
}

// SignedOrder is the wire form of a signed order
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderRequest is the POST /order body
type OrderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// SignOrder builds and signs a GTC order without sending it. The typed
// order is returned alongside the request so callers can verify it.
func (c *RESTClient) SignOrder(assetID string, side uint8, price, size decimal.Decimal) (OrderRequest, *crypto.Order, error) {
	if err := ValidatePrice(price); err != nil {
		return OrderRequest{}, nil, err
	}
	if c.Signer == nil {
		return OrderRequest{}, nil, errors.New("signer required to place orders")
	}

	order, err := c.buildOrder(assetID, side, price, size)
	if err != nil {
		return OrderRequest{}, nil, err
	}
	sig, err := c.Signer.SignOrder(order, c.ChainID, crypto.CTFExchange)
	if err != nil {
		return OrderRequest{}, nil, err
	}

	sideName := "BUY"
	if side == crypto.SideSell {
		sideName = "SELL"
	}
	return OrderRequest{
		Order: SignedOrder{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenID.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideName,
			SignatureType: int(order.SignatureType),
			Signature:     sig,
		},
		Owner:     c.Creds.Key,
		OrderType: "GTC",
	}, order, nil
}

func (c *RESTClient) post(ctx context.Context, assetID string, side uint8, price, size decimal.Decimal) (PlaceResult, error) {
	req, _, err := c.SignOrder(assetID, side, price, size)
	if err != nil {
		return PlaceResult{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("failed to marshal order: %w", err)
	}

	headers, err := c.l2Headers(http.MethodPost, "/order", body)
	if err != nil {
		return PlaceResult{}, err
	}

	var res PlaceResult
	if err := c.do(ctx, http.MethodPost, "/order", body, headers, &res); err != nil {
		return PlaceResult{}, fmt.Errorf("failed to post order: %w", err)
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s", ErrRejected, res.ErrorMsg)
	}
	return res, nil
}

var micro = decimal.New(1, 6)

// buildOrder computes 6-decimal maker/taker amounts for a 0.01 tick:
// size is rounded down to 2 decimals and notional to 4.
// BUY pays USDC for shares; SELL pays shares for USDC.
func (c *RESTClient) buildOrder(assetID string, side uint8, price, size decimal.Decimal) (*crypto.Order, error) {
	tokenID, ok := new(big.Int).SetString(assetID, 10)
	if !ok {
		return nil, fmt.Errorf("asset id %q is not a token id", assetID)
	}
	shares := size.RoundDown(2)
	if !shares.IsPositive() {
		return nil, fmt.Errorf("%w: size %s", ErrRejected, size)
	}
	notional := shares.Mul(price).Round(4)

	sharesMicro := shares.Mul(micro).BigInt()
	notionalMicro := notional.Mul(micro).BigInt()

	maker, taker := notionalMicro, sharesMicro
	if side == crypto.SideSell {
		maker, taker = sharesMicro, notionalMicro
	}

	salt, err := crypto.RandomSalt()
	if err != nil {
		return nil, err
	}

	sigType := crypto.SignatureEOA
	if c.Signer.Funder() != c.Signer.Address() {
		sigType = crypto.SignaturePolyProxy
	}

	return &crypto.Order{
		Salt:          salt,
		Maker:         c.Signer.Funder(),
		Signer:        c.Signer.Address(),
		TokenID:       tokenID,
		MakerAmount:   maker,
		TakerAmount:   taker,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          side,
		SignatureType: sigType,
	}, nil
}

// l2Headers signs timestamp+method+path+body with the base64url API secret
func (c *RESTClient) l2Headers(method, path string, body []byte) (map[string]string, error) {
	if c.Creds.Empty() || c.Signer == nil {
		return nil, ErrNoCredentials
	}
	secret, err := base64.URLEncoding.DecodeString(c.Creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode api secret: %w", err)
	}

	ts := strconv.FormatInt(c.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)

	return map[string]string{
		"POLY_ADDRESS":    c.Signer.Address().Hex(),
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    c.Creds.Key,
		"POLY_PASSPHRASE": c.Creds.Passphrase,
	}, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.Logger.Debugw("clob_request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ Exchange = (*RESTClient)(nil)
