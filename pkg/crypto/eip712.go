package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	PolygonChainID  = 137
	ClobAuthMessage = "This message attests that I control the given wallet"
)

// CTFExchange is the verifying contract for binary-outcome orders on Polygon
var CTFExchange = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

// Order sides and signature types as encoded in the signed order
const (
	SideBuy  uint8 = 0
	SideSell uint8 = 1

	SignatureEOA        uint8 = 0
	SignaturePolyProxy  uint8 = 1
	SignatureGnosisSafe uint8 = 2
)

// Order is the typed-data payload the exchange contract verifies
type Order struct {
	Salt          *big.Int
	Maker         common.Address // funder
	Signer        common.Address
	Taker         common.Address // zero for public orders
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

// HashClobAuth returns the digest signed for L1 (wallet) authentication
func HashClobAuth(addr common.Address, timestamp string, nonce int64, chainID int64) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   addr.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   ClobAuthMessage,
		},
	}
	return hashTypedData(typedData)
}

// HashOrder returns the digest signed for an order
func HashOrder(o *Order, chainID int64, exchange common.Address) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": append(domainTypes[:len(domainTypes):len(domainTypes)],
				apitypes.Type{Name: "verifyingContract", Type: "address"}),
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: exchange.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          o.Salt.String(),
			"maker":         o.Maker.Hex(),
			"signer":        o.Signer.Hex(),
			"taker":         o.Taker.Hex(),
			"tokenId":       o.TokenID.String(),
			"makerAmount":   o.MakerAmount.String(),
			"takerAmount":   o.TakerAmount.String(),
			"expiration":    o.Expiration.String(),
			"nonce":         o.Nonce.String(),
			"feeRateBps":    o.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", o.Side),
			"signatureType": fmt.Sprintf("%d", o.SignatureType),
		},
	}
	return hashTypedData(typedData)
}

// keccak256("\x19\x01" || domainSeparator || structHash)
func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignClobAuth signs the L1 authentication payload and returns 0x-hex
func (s *Signer) SignClobAuth(timestamp string, nonce int64, chainID int64) (string, error) {
	hash, err := HashClobAuth(s.address, timestamp, nonce, chainID)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(hash)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignOrder signs o and returns the 0x-hex signature
func (s *Signer) SignOrder(o *Order, chainID int64, exchange common.Address) (string, error) {
	hash, err := HashOrder(o, chainID, exchange)
	if err != nil {
		return "", fmt.Errorf("failed to hash order: %w", err)
	}
	sig, err := s.Sign(hash)
	if err != nil {
		return "", fmt.Errorf("failed to sign order: %w", err)
	}
	return hexutil.Encode(sig), nil
}
