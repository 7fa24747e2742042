// Package learner describes the node-discovery collaborator the
// decryption client depends on but does not implement. A real
// implementation maintains a gossiped view of the network's peers; this
// package only defines the structural contract (spec §4.2 step 1, §6
// glossary "Learner").
package learner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Learner resolves node identifiers (staking account addresses) to
// reachable network peers.
type Learner interface {
	// KnownNodes returns the set of node addresses currently known to be
	// reachable.
	KnownNodes() map[common.Address]struct{}

	// BlockUntilSpecificNodesAreKnown blocks until every address in nodes
	// is known, the context is cancelled, or at most allowMissing of them
	// remain unknown — whichever comes first.
	BlockUntilSpecificNodesAreKnown(ctx context.Context, nodes []common.Address, allowMissing int) error
}
