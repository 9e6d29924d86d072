package model

import "errors"

var (
	// ErrNoData means the snapshot source has nothing for a ticker right now.
	ErrNoData = errors.New("no data")

	// ErrMalformedMessage marks a bus message that cannot be decoded. It is dropped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrStorageFailure marks a failed database operation. The message is still
	// considered handled.
	ErrStorageFailure = errors.New("storage failure")
)
