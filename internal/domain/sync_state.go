package domain

// SyncState describes how a local line item relates to the remote cart.
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateSynced    SyncState = "synced"
	SyncStateLocalOnly SyncState = "local_only"
)

type OpKind string

const (
	OpAdd      OpKind = "add"
	OpRemove   OpKind = "remove"
	OpQuantity OpKind = "quantity"
)

// OpState is a step of a pending cart operation.
type OpState string

const (
	OpStateIdle              OpState = "idle"
	OpStateLocalApplied      OpState = "local_applied"
	OpStateBackendChecking   OpState = "backend_checking"
	OpStateBackendReconciled OpState = "backend_reconciled"
	OpStateLookingUpRemoteID OpState = "looking_up_remote_id"
	OpStatePolling           OpState = "polling"
	OpStateDeleting          OpState = "deleting"
	OpStatePushing           OpState = "pushing"
	OpStateDone              OpState = "done"
	OpStateSynced            OpState = "synced"
	OpStateLocalOnly         OpState = "local_only"
	OpStateFailed            OpState = "failed"
)

func (s OpState) IsTerminal() bool {
	switch s {
	case OpStateBackendReconciled, OpStateDone, OpStateSynced, OpStateLocalOnly, OpStateFailed:
		return true
	}
	return false
}

// String representation (for logging)
func (s OpState) String() string {
	return string(s)
}
