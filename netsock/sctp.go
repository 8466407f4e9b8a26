package netsock

import (
	"fmt"
	"net"

	"github.com/ishidawataru/sctp"
)

// sctpInitStreams matches §4.6's "set INIT (65535 in/out streams)".
const sctpInitStreams = 65535

type sctpConn struct{ *sctp.SCTPConn }

// Shutdown closes the association outright: this library exposes no
// half-close distinct from Close, so an SCTP peer sees the association
// shutdown rather than a stream-style EOF at Stop (§4.7.3 stage 0).
func (c sctpConn) Shutdown() error { return c.Close() }

func parseSCTPAddr(hostport string) (*sctp.SCTPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	var ips []net.IPAddr
	if host != "" {
		ip, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, err
		}
		ips = append(ips, *ip)
	}
	port, err := resolvePort(portStr)
	if err != nil {
		return nil, err
	}
	return &sctp.SCTPAddr{IPAddrs: ips, Port: port}, nil
}

func resolvePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

func dialSCTP(remote string, opts Options) (Conn, error) {
	raddr, err := parseSCTPAddr(remote)
	if err != nil {
		return nil, fmt.Errorf("netsock: resolve sctp %s: %w", remote, err)
	}
	conn, err := sctp.DialSCTP("sctp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("netsock: dial sctp %s: %w", remote, err)
	}
	applyCMT(conn, opts)
	return sctpConn{conn}, nil
}

type sctpListener struct{ *sctp.SCTPListener }

func (l sctpListener) Accept() (Conn, error) {
	c, err := l.AcceptSCTP()
	if err != nil {
		return nil, err
	}
	return sctpConn{c}, nil
}

func listenSCTP(port int, localAddrs []string, opts Options) (Listener, error) {
	var ips []net.IPAddr
	for _, a := range localAddrs {
		ip, err := net.ResolveIPAddr("ip", a)
		if err != nil {
			return nil, fmt.Errorf("netsock: resolve sctp local addr %s: %w", a, err)
		}
		ips = append(ips, *ip)
	}
	laddr := &sctp.SCTPAddr{IPAddrs: ips, Port: port}

	ln, err := sctp.ListenSCTPExt("sctp", laddr, sctp.InitMsg{
		NumOstreams:  sctpInitStreams,
		MaxInstreams: sctpInitStreams,
	})
	if err != nil {
		return nil, fmt.Errorf("netsock: listen sctp :%d: %w", port, err)
	}
	return sctpListener{ln}, nil
}
