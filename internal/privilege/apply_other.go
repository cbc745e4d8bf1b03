//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package privilege

func apply(Identity) error {
	return ErrUnsupported
}
