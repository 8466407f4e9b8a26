// Package control implements the active and passive sides of the
// NetPerfMeter control protocol (§4.8): the sequential active-side driver
// (AddFlow, IdentifyFlow, Start, Stop, result download) and the passive
// side's message dispatcher.
package control

import (
	"io"
	"time"

	"github.com/dreibh/netperfmeter/wire"
)

// Conn is the blocking control-channel primitive: a TCP connection or an
// SCTP association used for the synchronous request/acknowledge exchanges
// of §4.8. Both *net.TCPConn and *sctp.SCTPConn satisfy it as-is.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// readMessage reads one complete framed message from conn, honoring the
// header's declared Length. timeout == 0 blocks indefinitely.
func readMessage(conn Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	h, err := wire.DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	if int(h.Length) < wire.HeaderSize {
		return nil, wire.ErrLengthMismatch
	}

	buf := make([]byte, h.Length)
	copy(buf, header)
	if _, err := io.ReadFull(conn, buf[wire.HeaderSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeMessage writes buf to conn in full.
func writeMessage(conn Conn, buf []byte) error {
	for written := 0; written < len(buf); {
		n, err := conn.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
