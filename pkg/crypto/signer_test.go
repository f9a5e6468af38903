package crypto

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in[:4], err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestFunder(t *testing.T) {
	s, _ := GenerateKey()
	if s.Funder() != s.Address() {
		t.Error("funder should default to signer address")
	}
	s.WithFunder("not-an-address")
	if s.Funder() != s.Address() {
		t.Error("invalid proxy must be ignored")
	}
	proxy := "0x3333333333333333333333333333333333333333"
	s.WithFunder(proxy)
	if s.Funder() != common.HexToAddress(proxy) {
		t.Errorf("funder = %s", s.Funder().Hex())
	}
}

func TestSignRecover(t *testing.T) {
	s, _ := GenerateKey()
	hash := bytes.Repeat([]byte{0xab}, 32)

	sig, err := s.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}

	addr, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatal(err)
	}
	if addr != s.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
	}

	if _, err := s.Sign([]byte("short")); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestSignClobAuth(t *testing.T) {
	s, _ := GenerateKey()

	sigHex, err := s.SignClobAuth("1700000000", 0, PolygonChainID)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := HashClobAuth(s.Address(), "1700000000", 0, PolygonChainID)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := RecoverAddress(hash, hexutil.MustDecode(sigHex))
	if err != nil || addr != s.Address() {
		t.Errorf("recovered %s, %v", addr.Hex(), err)
	}

	other, _ := HashClobAuth(s.Address(), "1700000001", 0, PolygonChainID)
	if bytes.Equal(hash, other) {
		t.Error("timestamp must change the digest")
	}
}

func TestSignOrder(t *testing.T) {
	s, _ := GenerateKey()
	salt, err := RandomSalt()
	if err != nil {
		t.Fatal(err)
	}
	o := &Order{
		Salt:          salt,
		Maker:         s.Funder(),
		Signer:        s.Address(),
		TokenID:       big.NewInt(12345),
		MakerAmount:   big.NewInt(4_500_000),
		TakerAmount:   big.NewInt(5_000_000),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          SideBuy,
		SignatureType: SignatureEOA,
	}

	sigHex, err := s.SignOrder(o, PolygonChainID, CTFExchange)
	if err != nil {
		t.Fatal(err)
	}
	hash, _ := HashOrder(o, PolygonChainID, CTFExchange)
	addr, err := RecoverAddress(hash, hexutil.MustDecode(sigHex))
	if err != nil || addr != s.Address() {
		t.Errorf("recovered %s, %v", addr.Hex(), err)
	}

	sell := *o
	sell.Side = SideSell
	sellHash, _ := HashOrder(&sell, PolygonChainID, CTFExchange)
	if bytes.Equal(hash, sellHash) {
		t.Error("side must change the digest")
	}
}
