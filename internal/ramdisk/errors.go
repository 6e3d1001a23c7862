// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramdisk

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Error is an error carrying the errno the host should report for it.
type Error interface {
	error
	Errno() unix.Errno
	WithMessage(message string) Error
	Wrap(err error) Error
}

var (
	ErrAllocation      = newError(unix.ENOMEM, "Cannot allocate backing store")
	ErrRegistration    = newError(unix.EBUSY, "Cannot register volume")
	ErrInvalidHandle   = newError(unix.EBADF, "Invalid volume handle")
	ErrNoSuchDevice    = newError(unix.ENXIO, "No such device")
	ErrNotSupported    = newError(unix.ENOTTY, "Control query not supported")
	ErrInvalidArgument = newError(unix.EINVAL, "Invalid argument")
)

type volumeError struct {
	errno         unix.Errno
	message       string
	originalError error
}

func newError(errno unix.Errno, message string) Error {
	return volumeError{errno: errno, message: message}
}

func (e volumeError) Error() string {
	return e.message
}

func (e volumeError) Errno() unix.Errno {
	return e.errno
}

func (e volumeError) WithMessage(message string) Error {
	return volumeError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

// Wrap returns an error matching both e and err with errors.Is.
func (e volumeError) Wrap(err error) Error {
	return volumeError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e volumeError) Unwrap() error {
	return e.originalError
}

// Errno returns the errno associated with err. Errors which do not come from
// this package map to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var ve Error
	if errors.As(err, &ve) {
		return ve.Errno()
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return unix.EIO
}
