package bootcheck

import "errors"

var (
	// ErrInvalidInput is returned when the image path is not a regular,
	// readable file. Nothing has been acquired when it is returned.
	ErrInvalidInput = errors.New("invalid input image")

	// ErrUnsupportedTopology is the reason attached to an Unsupported result
	// when the image does not hold exactly two partitions.
	ErrUnsupportedTopology = errors.New("unsupported partition topology")

	// ErrUnsupportedContent is the reason attached to an Unsupported result
	// when cmdline.txt or etc/fstab is missing from its partition.
	ErrUnsupportedContent = errors.New("unsupported partition content")

	// ErrNoPartUUID is returned when a partition carries no PARTUUID.
	ErrNoPartUUID = errors.New("partition has no PARTUUID")

	// ErrTokenNotFound is returned by the fixer when a line that must be
	// rewritten holds no PARTUUID= token.
	ErrTokenNotFound = errors.New("no PARTUUID token on line")

	// ErrFixNotVerified is returned when a re-check after applying fixes
	// still reports mismatches.
	ErrFixNotVerified = errors.New("references still mismatch after fix")
)
