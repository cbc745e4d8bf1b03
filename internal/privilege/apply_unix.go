//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package privilege

import "golang.org/x/sys/unix"

// apply 依次设置附加组、gid、uid；uid 必须最后设置，否则失去修改组的权限。
func apply(id Identity) error {
	if unix.Getuid() == id.UID && unix.Getgid() == id.GID {
		return nil
	}
	if err := unix.Setgroups(id.Groups); err != nil {
		return err
	}
	if err := unix.Setgid(id.GID); err != nil {
		return err
	}
	return unix.Setuid(id.UID)
}
