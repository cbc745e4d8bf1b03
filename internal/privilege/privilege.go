// Package privilege 在端口绑定完成后把进程降权为指定用户。
package privilege

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

// ErrUnsupported 表示当前平台不支持降权。
var ErrUnsupported = errors.New("dropping privileges is not supported on this platform")

// Identity 是解析后的目标用户。
type Identity struct {
	Name   string
	UID    int
	GID    int
	Groups []int
}

// Lookup 按用户名或数字 uid 解析目标用户及其附加组。
func Lookup(name string) (Identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if !errors.As(err, &unknown) {
			return Identity{}, err
		}
		u, err = user.LookupId(name)
		if err != nil {
			return Identity{}, fmt.Errorf("unknown user %q: %w", name, err)
		}
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid gid %q: %w", u.Gid, err)
	}
	id := Identity{Name: u.Username, UID: uid, GID: gid}

	groups, err := u.GroupIds()
	if err == nil {
		for _, raw := range groups {
			if g, err := strconv.Atoi(raw); err == nil {
				id.Groups = append(id.Groups, g)
			}
		}
	}
	if len(id.Groups) == 0 {
		id.Groups = []int{gid}
	}
	return id, nil
}

// Drop 解析用户并切换进程的 uid/gid。
func Drop(name string) (Identity, error) {
	id, err := Lookup(name)
	if err != nil {
		return Identity{}, err
	}
	if err := apply(id); err != nil {
		return Identity{}, fmt.Errorf("drop privileges to %s: %w", id.Name, err)
	}
	return id, nil
}
