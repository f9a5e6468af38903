package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/crypto"
	"github.com/uhyunpark/updownbot/pkg/exchange"
)

func main() {
	var (
		token  = flag.String("token", "", "Outcome token (asset) id")
		price  = flag.String("price", "0.90", "Limit price")
		size   = flag.String("size", "5", "Size in shares")
		sell   = flag.Bool("sell", false, "Sign a SELL instead of a BUY")
		derive = flag.Bool("derive", false, "Derive L2 API credentials from the wallet and print them")
		host   = flag.String("host", "https://clob.polymarket.com", "CLOB host for -derive")
	)
	flag.Parse()

	_ = godotenv.Load()

	signer, err := loadSigner()
	if err != nil {
		fail("wallet", err)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Funder:  %s\n\n", signer.Funder().Hex())

	client := exchange.NewRESTClient(*host, 5, signer, exchange.Credentials{
		Key:        os.Getenv("CLOB_API_KEY"),
		Secret:     os.Getenv("CLOB_SECRET"),
		Passphrase: os.Getenv("CLOB_PASSPHRASE"),
	}, zap.NewNop().Sugar())

	if *derive {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		creds, err := client.DeriveAPIKey(ctx)
		if err != nil {
			fail("derive", err)
		}
		out, _ := json.MarshalIndent(creds, "", "  ")
		fmt.Println("API credentials (KEEP SECRET!):")
		fmt.Println(string(out))
		return
	}

	if *token == "" {
		fail("order", fmt.Errorf("-token is required"))
	}
	p, err := decimal.NewFromString(*price)
	if err != nil {
		fail("price", err)
	}
	s, err := decimal.NewFromString(*size)
	if err != nil {
		fail("size", err)
	}

	side := crypto.SideBuy
	if *sell {
		side = crypto.SideSell
		p = p.Round(2)
	}

	req, order, err := client.SignOrder(*token, side, p, s)
	if err != nil {
		fail("sign", err)
	}

	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(body))
	fmt.Println()

	// Verify the signature recovers to the signing key
	digest, err := crypto.HashOrder(order, client.ChainID, crypto.CTFExchange)
	if err != nil {
		fail("hash", err)
	}
	sig, err := hexutil.Decode(req.Order.Signature)
	if err != nil {
		fail("signature", err)
	}
	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		fail("recover", err)
	}
	if recovered != signer.Address() {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	fmt.Println("To submit this order:")
	fmt.Printf("  POST %s/order with L2 headers (POLY_ADDRESS, POLY_API_KEY, POLY_PASSPHRASE, POLY_SIGNATURE, POLY_TIMESTAMP)\n", *host)
}

func loadSigner() (*crypto.Signer, error) {
	pk := os.Getenv("PK")
	if pk == "" {
		fmt.Println("PK not set, generating new keypair...")
		signer, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		return signer, nil
	}
	signer, err := crypto.FromPrivateKeyHex(pk)
	if err != nil {
		return nil, err
	}
	return signer.WithFunder(os.Getenv("PROXY_ADDRESS")), nil
}

func fail(step string, err error) {
	fmt.Printf("Error (%s): %v\n", step, err)
	os.Exit(1)
}
