//go:build linux

package netsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// DCCP has no net package support, so this talks to the kernel directly:
// socket(2)/bind(2)/listen(2)/connect(2) via golang.org/x/sys/unix, then
// hands the descriptor to net.FileConn/net.FileListener so the rest of
// this package can treat it like any other net.Conn.

const (
	dccpSockoptCCID    = 13 // DCCP_SOCKOPT_CCID
	dccpSockoptService = 2  // DCCP_SOCKOPT_SERVICE

	// dccpDataServiceCode is every data connection's DCCP_SOCKOPT_SERVICE
	// value (§6.3): the ASCII-derived service code the control protocol
	// reserves for data channels, distinct from the SCTP/TCP control
	// channel's own PPID.
	dccpDataServiceCode = 1852861808
)

type dccpConn struct{ net.Conn }

// Shutdown is a best-effort half-close; DCCP's close handshake does not
// have a distinct write-half shutdown exposed through net.Conn, so this
// closes the connection outright (stop is always followed by destroying
// the flow's socket).
func (c dccpConn) Shutdown() error { return c.Close() }

func sockaddrFromHostPort(hostport string) (unix.Sockaddr, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	p, err := resolvePort(port)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil && host != "" {
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, err
		}
		ip = addr.IP
	}
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = p
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = p
	copy(sa.Addr[:], ip.To16())
	return &sa, nil
}

func applyDCCPOptions(fd int, opts Options) {
	if opts.CCID != 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_DCCP, dccpSockoptCCID, int(opts.CCID)); err != nil {
			fmt.Println("netsock: DCCP_SOCKOPT_CCID:", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_DCCP, dccpSockoptService, dccpDataServiceCode); err != nil {
		fmt.Println("netsock: DCCP_SOCKOPT_SERVICE:", err)
	}
}

func dialDCCP(remote string, opts Options) (Conn, error) {
	sa, err := sockaddrFromHostPort(remote)
	if err != nil {
		return nil, fmt.Errorf("netsock: resolve dccp %s: %w", remote, err)
	}
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DCCP, unix.IPPROTO_DCCP)
	if err != nil {
		return nil, fmt.Errorf("netsock: socket dccp: %w", err)
	}
	applyDCCPOptions(fd, opts)
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netsock: connect dccp %s: %w", remote, err)
	}
	f := os.NewFile(uintptr(fd), "dccp")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("netsock: dccp FileConn: %w", err)
	}
	return dccpConn{conn}, nil
}

type dccpListener struct{ net.Listener }

func (l dccpListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return dccpConn{c}, nil
}

func listenDCCP(port int, localAddrs []string, opts Options) (Listener, error) {
	sa, err := sockaddrFromHostPort(firstAddrOrWildcard(localAddrs, port))
	if err != nil {
		return nil, fmt.Errorf("netsock: resolve dccp :%d: %w", port, err)
	}
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DCCP, unix.IPPROTO_DCCP)
	if err != nil {
		return nil, fmt.Errorf("netsock: socket dccp: %w", err)
	}
	applyDCCPOptions(fd, opts)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netsock: bind dccp :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netsock: listen dccp :%d: %w", port, err)
	}
	f := os.NewFile(uintptr(fd), "dccp-listener")
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("netsock: dccp FileListener: %w", err)
	}
	return dccpListener{ln}, nil
}
