package seccomp

import "errors"

// Sentinel errors for typed error checking.
var (
	ErrInputOpen       = errors.New("cannot open policy file")
	ErrInputRead       = errors.New("cannot read policy file")
	ErrMalformedInput  = errors.New("malformed policy document")
	ErrUnsupportedArch = errors.New("unsupported architecture")

	// ErrArchPresent is returned by Filter.AddArch when the architecture is
	// already part of the filter. Callers treat it as success.
	ErrArchPresent = errors.New("architecture already present in filter")
)

// IsMalformed returns true if the error is a policy parsing error.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}
