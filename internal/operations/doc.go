// Package operations is the lifecycle core for long-running asynchronous
// work: bulk market-data loads, model training runs and backtests.
//
// The Registry is the single owner of all operation records. Callers create
// an operation, launch the actual work themselves, and hand the task a
// narrow Handle through which it reports progress and observes cooperative
// cancellation. Any number of concurrent callers may query, list or request
// cancellation; only the owning task finalizes its record.
//
// The state machine is strictly forward-only:
//
//	pending → running → completed
//	pending → cancelled
//	running → failed
//	running → cancelled
//
// Terminal records are retained until an explicit Cleanup call removes them.
//
// For operation types whose authoritative progress lives in a remote
// executor (training runs), the Bridge polls the executor and overlays its
// reported status onto the local record using the same public registry
// methods every other caller uses.
package operations
