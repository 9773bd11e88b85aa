package blehost

import "github.com/pkg/errors"

// Error kinds returned synchronously by the engines. Wrap with
// errors.Wrap/Wrapf for context and test with errors.Is/Cause.
var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrInvalidState          = errors.New("invalid state")
	ErrOperationNotPermitted = errors.New("operation not permitted")
	ErrNotImplemented        = errors.New("not implemented")
	ErrNoMemory              = errors.New("no memory")
	ErrCommunicationFailure  = errors.New("communication failure")
	ErrAuthenticationFailure = errors.New("authentication failure")
)
