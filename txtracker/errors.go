package txtracker

import "github.com/pkg/errors"

// ErrTransactionFinalized and ErrSpendingCapExceeded are internal
// control-flow signals raised by SpeedupTransaction and consumed by the
// periodic loop; per spec §7 they are "expected control-flow signals used
// internally... never propagated to external callers" beyond
// SpeedupTransaction itself. CancelTransaction returns neither.
var (
	ErrTransactionFinalized = errors.New("txtracker: transaction already finalized")
	ErrSpendingCapExceeded  = errors.New("txtracker: speed-up would exceed spending cap")
)
