// Package netsock creates and configures data and control sockets across
// NetPerfMeter's five transports (TCP, MPTCP, UDP, SCTP, DCCP), mirroring
// §4.6's createAndBindSocket helper and its per-flow socket-option tuning.
package netsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dreibh/netperfmeter/msgreader"
)

// Options carries the per-flow socket tuning knobs a TrafficSpec supplies
// (§4.6 "per-flow socket options at connect/accept time").
type Options struct {
	RcvBufferSize     uint32
	SndBufferSize     uint32
	CMT               uint8
	CCID              uint8
	NDiffPorts        uint16
	PathMgr           string
	CongestionControl string
	V6Only            bool
}

// Conn is the send-side primitive netsock hands to a flow.Flow. It matches
// flow.Conn exactly (this package does not import flow, to keep the
// transport layer below the flow layer in the dependency graph).
type Conn interface {
	Write(b []byte) (int, error)
	Shutdown() error
	Close() error
}

// Listener accepts inbound data or control connections for one protocol.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// ErrUnsupportedProtocol is returned by Dial/Listen for a protocol this
// platform cannot create a socket for (e.g. DCCP outside Linux).
var ErrUnsupportedProtocol = errors.New("netsock: protocol not supported on this platform")

// Dial opens an outbound connection to remote (host:port) for protocol,
// applying opts.
func Dial(protocol msgreader.Protocol, remote string, opts Options) (Conn, error) {
	switch protocol {
	case msgreader.TCP:
		return dialTCP(remote, opts, false)
	case msgreader.MPTCP:
		return dialTCP(remote, opts, true)
	case msgreader.UDP:
		return dialUDP(remote, opts)
	case msgreader.SCTP:
		return dialSCTP(remote, opts)
	case msgreader.DCCP:
		return dialDCCP(remote, opts)
	default:
		return nil, fmt.Errorf("netsock: unknown protocol %d", protocol)
	}
}

// Listen creates and binds a listening (stream) or receiving (datagram)
// socket for protocol on localPort (§4.6 createAndBindSocket). localAddrs,
// when non-empty, are bound explicitly -- SCTP's multi-homing bind; other
// protocols use only the first address, or the wildcard if none is given.
func Listen(protocol msgreader.Protocol, localPort int, localAddrs []string, opts Options) (Listener, error) {
	switch protocol {
	case msgreader.TCP:
		return listenTCP(localPort, localAddrs, opts, false)
	case msgreader.MPTCP:
		return listenTCP(localPort, localAddrs, opts, true)
	case msgreader.UDP:
		return listenUDP(localPort, localAddrs, opts)
	case msgreader.SCTP:
		return listenSCTP(localPort, localAddrs, opts)
	case msgreader.DCCP:
		return listenDCCP(localPort, localAddrs, opts)
	default:
		return nil, fmt.Errorf("netsock: unknown protocol %d", protocol)
	}
}

func firstAddrOrWildcard(localAddrs []string, port int) string {
	if len(localAddrs) == 0 {
		return net.JoinHostPort("", strconv.Itoa(port))
	}
	return net.JoinHostPort(localAddrs[0], strconv.Itoa(port))
}

// tcpConn adapts *net.TCPConn to Conn. Shutdown half-closes the write side
// so a stream peer observes EOF at Stop, per §4.7.3 stage 0.
type tcpConn struct{ *net.TCPConn }

func (c tcpConn) Shutdown() error { return c.CloseWrite() }

func dialTCP(remote string, opts Options, multipath bool) (Conn, error) {
	d := net.Dialer{Timeout: 30 * time.Second}
	if multipath {
		d.SetMultipathTCP(true)
		applyPathMgr(opts)
	}
	conn, err := d.Dial("tcp", remote)
	if err != nil {
		return nil, fmt.Errorf("netsock: dial tcp %s: %w", remote, err)
	}
	tc := conn.(*net.TCPConn)
	if err := applyBufferSizes(tc, opts); err != nil {
		return nil, err
	}
	return tcpConn{tc}, nil
}

type tcpListener struct{ *net.TCPListener }

func (l tcpListener) Accept() (Conn, error) {
	c, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return tcpConn{c}, nil
}

func listenTCP(port int, localAddrs []string, opts Options, multipath bool) (Listener, error) {
	lc := net.ListenConfig{}
	if multipath {
		lc.SetMultipathTCP(true)
		applyPathMgr(opts)
	}
	ln, err := lc.Listen(context.Background(), "tcp", firstAddrOrWildcard(localAddrs, port))
	if err != nil {
		return nil, fmt.Errorf("netsock: listen tcp :%d: %w", port, err)
	}
	return tcpListener{ln.(*net.TCPListener)}, nil
}

// udpConn adapts a connected *net.UDPConn. UDP has no write-half to
// shutdown, so Shutdown is a no-op (§4.5.2 step 4: transient send failures
// are recoverable, and there is no peer EOF signal on this transport).
type udpConn struct{ *net.UDPConn }

func (udpConn) Shutdown() error { return nil }

func dialUDP(remote string, opts Options) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("netsock: resolve udp %s: %w", remote, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("netsock: dial udp %s: %w", remote, err)
	}
	if err := applyBufferSizes(conn, opts); err != nil {
		return nil, err
	}
	return udpConn{conn}, nil
}

// udpListener wraps a *net.UDPConn as a pseudo-Listener: UDP has no
// accept() semantics, so Accept returns the same connected-less socket
// wrapped as a Conn exactly once, matching the flow manager's expectation
// that receive happens through the manager's shared poll loop (§4.7.1)
// rather than per-connection Accept for this protocol.
type udpListener struct{ conn *net.UDPConn }

func (l udpListener) Accept() (Conn, error) { return udpConn{l.conn}, nil }
func (l udpListener) Close() error          { return l.conn.Close() }
func (l udpListener) Addr() net.Addr        { return l.conn.LocalAddr() }

func listenUDP(port int, localAddrs []string, opts Options) (Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", firstAddrOrWildcard(localAddrs, port))
	if err != nil {
		return nil, fmt.Errorf("netsock: resolve udp :%d: %w", port, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("netsock: listen udp :%d: %w", port, err)
	}
	if err := applyBufferSizes(conn, opts); err != nil {
		return nil, err
	}
	return udpListener{conn}, nil
}

// applyBufferSizes sets SO_SNDBUF/SO_RCVBUF to the sizes opts requests and
// fails only when setting one fails; it does not read the sizes back, so a
// kernel that grants less than requested goes unreported.
func applyBufferSizes(conn interface {
	SetReadBuffer(int) error
	SetWriteBuffer(int) error
}, opts Options) error {
	if opts.RcvBufferSize > 0 {
		if err := conn.SetReadBuffer(int(opts.RcvBufferSize)); err != nil {
			return fmt.Errorf("netsock: SO_RCVBUF: %w", err)
		}
	}
	if opts.SndBufferSize > 0 {
		if err := conn.SetWriteBuffer(int(opts.SndBufferSize)); err != nil {
			return fmt.Errorf("netsock: SO_SNDBUF: %w", err)
		}
	}
	return nil
}
