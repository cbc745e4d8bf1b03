//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package proxy

import (
	"context"
	"net"
)

// listen 在不支持 SO_REUSEPORT 的平台上退化为普通监听，此时只能运行单个 worker。
func listen(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}
