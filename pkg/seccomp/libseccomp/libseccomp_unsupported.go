//go:build !(linux && cgo && seccomp)

// Package libseccomp implements seccomp.Backend on top of libseccomp.
package libseccomp

import (
	"errors"

	"seccompiler/pkg/seccomp"
)

// ErrNotSupported is returned by New when the binary was built without the
// seccomp build tag, without cgo, or for a non-Linux target.
var ErrNotSupported = errors.New("seccompiler was built without libseccomp support (rebuild with CGO_ENABLED=1 -tags seccomp on linux)")

// Backend is unavailable in this build.
type Backend struct{}

func New() (*Backend, error) {
	return nil, ErrNotSupported
}

func Version() string {
	return "unavailable"
}

func (b *Backend) NewFilter(seccomp.Action) (seccomp.Filter, error) {
	return nil, ErrNotSupported
}

func (b *Backend) ResolveSyscall(string, seccomp.TargetArch) (int32, error) {
	return 0, ErrNotSupported
}
