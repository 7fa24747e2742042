// Package middleware describes the thin network transport the
// decryption client's workers use to reach a peer. A real
// implementation performs a single HTTP round trip; this package only
// defines the structural contract (spec §6 "Decryption-client
// interface": "the transport is treated as a black box single-round-trip").
package middleware

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkMiddleware sends opaque request bytes to node and returns its
// opaque response bytes. Implementations treat any non-2xx HTTP status
// (or transport error) as an error return, never a panic.
type NetworkMiddleware interface {
	SendRequest(ctx context.Context, node common.Address, requestBody []byte) (responseBody []byte, err error)
}
