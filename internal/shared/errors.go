package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Session control errors
	ErrStartPrecondition  = fmt.Errorf("destination not ready")
	ErrNothingSelected    = fmt.Errorf("no directories selected")
	ErrInvalidTransition  = fmt.Errorf("invalid state transition")
	ErrSelectWhileRunning = fmt.Errorf("selection cannot change while running")
	ErrUnknownDirectory   = fmt.Errorf("unknown directory")
	ErrRetryLimit         = fmt.Errorf("retry limit reached")
	ErrNotRetryable       = fmt.Errorf("directory is not in error state")
	ErrScanInProgress     = fmt.Errorf("scan already in progress")
	ErrManagerClosed      = fmt.Errorf("backup manager is not running")

	// Persistence errors
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrHistoryNotFound = fmt.Errorf("history entry not found")
	ErrPersistence     = fmt.Errorf("failed to persist session")

	// Transfer errors
	ErrSyncToolMissing = fmt.Errorf("sync tool not found")
	ErrTransferFailed  = fmt.Errorf("transfer failed")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
