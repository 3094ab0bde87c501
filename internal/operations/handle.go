package operations

// Handle is the narrow, read-mostly interface issued to the executing task
// at MarkStarted time. It is the only channel through which the task
// interacts with the registry: it can report progress, observe the
// cancellation signal and finalize its own record, but never touches fields
// it does not own (timestamps, id, metadata).
//
// The task contract: poll IsCancellationRequested at reasonably frequent
// checkpoints, and call exactly one of Complete, Fail or
// AcknowledgeCancellation when finished.
type Handle struct {
	id       string
	registry *Registry
}

// OperationID returns the id of the operation this handle belongs to
func (h *Handle) OperationID() string {
	return h.id
}

// IsCancellationRequested reports whether a caller asked this operation to
// stop. The registry imposes no deadline on how long the task takes to
// acknowledge; any timeout policy belongs to whoever launched the task.
func (h *Handle) IsCancellationRequested() bool {
	rec, err := h.registry.lookup("is_cancellation_requested", h.id)
	if err != nil {
		return false
	}
	return rec.Cancellation.Requested()
}

// CancellationReason returns the reason supplied with the cancellation
// request, if any
func (h *Handle) CancellationReason() string {
	rec, err := h.registry.lookup("cancellation_reason", h.id)
	if err != nil {
		return ""
	}
	return rec.Cancellation.Reason()
}

// ReportProgress replaces the operation's progress snapshot
func (h *Handle) ReportProgress(snapshot Snapshot) error {
	return h.registry.ReportProgress(h.id, snapshot)
}

// Complete finalizes the operation as completed with the given result
func (h *Handle) Complete(result map[string]any) error {
	return h.registry.Complete(h.id, result)
}

// Fail finalizes the operation as failed, optionally keeping any partial
// result the task salvaged
func (h *Handle) Fail(errorMessage string, result map[string]any) error {
	return h.registry.Fail(h.id, errorMessage, result)
}

// AcknowledgeCancellation records that the task observed the cancellation
// signal and has unwound, performing the running → cancelled transition
func (h *Handle) AcknowledgeCancellation() error {
	return h.registry.AcknowledgeCancellation(h.id)
}
