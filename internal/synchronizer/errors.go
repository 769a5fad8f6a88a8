package synchronizer

import "errors"

var (
	ErrClosed               = errors.New("synchronizer closed")
	ErrSignedOut            = errors.New("no signed-in user")
	ErrUserChanged          = errors.New("signed-in user changed while the operation was pending")
	ErrRemoteRecordNotFound = errors.New("remote cart record not found")
	ErrRemoveFailed         = errors.New("could not remove item, try again")
	ErrCreateFailed         = errors.New("remote cart record could not be created")
	ErrUpdateFailed         = errors.New("remote cart quantity could not be updated")
)
