package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage
//
//   ord:<wallet>:<assetID>            → orders.Record
//   dec:<unixNano 20 digits>:<id>     → audit.Record
//
// Order keys are scoped by wallet so one data dir can serve several funders
// without one wallet's reload marking another's assets processed.

const (
	prefixOrder    = "ord:"
	prefixDecision = "dec:"
)

// orderKey returns the key for an order record
// Format: "ord:{address}:{assetID}"
func orderKey(owner common.Address, assetID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, owner.Hex(), assetID))
}

// orderPrefix returns the prefix for all order records of a wallet
// Format: "ord:{address}:"
func orderPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, owner.Hex()))
}

// decisionKey returns the key for an audit record
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func decisionKey(unixNano int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixDecision, unixNano, id))
}

func decisionPrefix() []byte {
	return []byte(prefixDecision)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
