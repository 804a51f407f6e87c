package core

import "errors"

var (
	// ErrSourceAlreadySet is returned when RememberSource is called twice on one job.
	ErrSourceAlreadySet = errors.New("import source already set for this job")

	// ErrJobNotFound is returned for unknown or expired job IDs.
	ErrJobNotFound = errors.New("import job not found")

	// ErrHeaderMismatch is returned when the source header does not name the import columns.
	ErrHeaderMismatch = errors.New("header mismatch")

	// ErrEmptySource is returned when the source has no header row.
	ErrEmptySource = errors.New("empty source file")

	// ErrMissingFile is returned when an import request carries no source file.
	ErrMissingFile = errors.New("no file provided")

	// ErrUnsupportedDelimiter is returned for delimiters other than ';' and ','.
	ErrUnsupportedDelimiter = errors.New("unsupported delimiter")

	// ErrUnsupportedEncoding is returned for source encodings that cannot be decoded.
	ErrUnsupportedEncoding = errors.New("unsupported source encoding")

	// ErrGroupNotFound is returned when a group-scoped import names an unknown group.
	ErrGroupNotFound = errors.New("group not found")

	// ErrUsernameExhausted is returned when every username candidate is taken.
	ErrUsernameExhausted = errors.New("username unavailable")
)
