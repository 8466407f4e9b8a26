//go:build !linux

package netsock

// DCCP sockets are Linux-only (no portable socket-family abstraction
// exists elsewhere); every other platform reports unsupported rather than
// silently falling back to a different transport.

func dialDCCP(remote string, opts Options) (Conn, error) {
	return nil, ErrUnsupportedProtocol
}

func listenDCCP(port int, localAddrs []string, opts Options) (Listener, error) {
	return nil, ErrUnsupportedProtocol
}
