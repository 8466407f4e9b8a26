// Package flowreceiver drives the read side of data connections (§4.7.1's
// FlowManager receiver loop): it adapts a netsock.Conn into a msgreader.Socket,
// pulls framed messages off it, and dispatches IdentifyFlow/Data messages
// into a flowmanager.Manager. Each data connection gets its own goroutine
// rather than sharing one process-wide poll loop, the natural Go rendering
// of the same "one reader per socket, non-blocking" design collector.go
// uses for netlink sockets.
package flowreceiver

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/netsock"
	"github.com/dreibh/netperfmeter/wire"
)

// pollInterval bounds each non-blocking read attempt, matching §4.2's
// "up to 2.5s or until nextEvent" poll budget.
const pollInterval = 2500 * time.Millisecond

// maxMessageSize is the largest buffer a socket's framed reads ever need:
// the wire header's Length field is 16 bits, so no message exceeds 65535
// bytes.
const maxMessageSize = 65536

// deadlineConn is what flowreceiver needs beyond netsock.Conn to poll a
// connection non-blockingly. Every concrete netsock.Conn (TCP, UDP, SCTP,
// DCCP) satisfies it via the net.Conn it embeds.
type deadlineConn interface {
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

type socket struct {
	conn     deadlineConn
	protocol msgreader.Protocol
}

func (s *socket) Protocol() msgreader.Protocol { return s.protocol }

func (s *socket) ReadRaw(buf []byte) (msgreader.RawRead, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return msgreader.RawRead{}, err
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return msgreader.RawRead{}, msgreader.ErrWouldBlock
		}
		return msgreader.RawRead{}, err
	}
	return msgreader.RawRead{N: n, EndOfRecord: true}, nil
}

// Serve reads and dispatches messages from one accepted/dialed data
// connection until it errors, a framing violation occurs, or ctx is
// cancelled. vectorPrefix/active name the per-flow vector file an inbound
// IdentifyFlow should open (§4.7.2).
func Serve(ctx context.Context, manager *flowmanager.Manager, conn netsock.Conn, protocol msgreader.Protocol, vectorPrefix string, active bool) error {
	dc, ok := conn.(deadlineConn)
	if !ok {
		return fmt.Errorf("flowreceiver: %T does not support deadline reads", conn)
	}
	sock := &socket{conn: dc, protocol: protocol}

	reader := msgreader.NewReader(maxMessageSize)
	reader.AddSocket(sock)
	manager.AddUnidentifiedSocket(conn)
	defer func() {
		if reader.RemoveSocket(sock) {
			conn.Close()
		}
	}()

	for ctx.Err() == nil {
		result, buf, err := reader.Receive(sock)
		switch result {
		case msgreader.PartialRead:
			continue
		case msgreader.FullMessage:
			if err := dispatch(manager, conn, protocol, vectorPrefix, active, buf); err != nil {
				log.Printf("flowreceiver: dispatching message: %v", err)
			}
		case msgreader.Notification:
			// SCTP association/stream events arrive here undifferentiated;
			// conservatively treat any of them as association teardown,
			// matching §4.7's "control-socket disconnect cancels every
			// measurement bound to it" for the data-socket case.
			return fmt.Errorf("flowreceiver: association notification on %T, closing", conn)
		case msgreader.SocketError, msgreader.StreamError:
			return err
		case msgreader.BadSocket:
			return fmt.Errorf("flowreceiver: socket not registered")
		}
	}
	return ctx.Err()
}

func dispatch(manager *flowmanager.Manager, conn netsock.Conn, protocol msgreader.Protocol, vectorPrefix string, active bool, buf []byte) error {
	h, err := wire.DecodeHeader(buf)
	if err != nil {
		return err
	}
	switch h.Type {
	case wire.TypeIdentifyFlow:
		return handleIdentifyFlow(manager, conn, vectorPrefix, active, buf)
	case wire.TypeData:
		return handleData(manager, buf)
	default:
		return fmt.Errorf("unexpected data-connection message type %v", h.Type)
	}
}

func handleIdentifyFlow(manager *flowmanager.Manager, conn netsock.Conn, vectorPrefix string, active bool, buf []byte) error {
	idf, err := wire.DecodeIdentifyFlow(buf)
	if err != nil {
		return err
	}
	f, err := manager.IdentifySocket(idf, conn, nil, vectorPrefix, active)
	if err != nil {
		return fmt.Errorf("IdentifyFlow %d/%d/%d: %w", idf.MeasurementID, idf.FlowID, idf.StreamID, err)
	}
	log.Printf("flowreceiver: identified flow %d/%d/%d", f.MeasurementID, f.FlowID, f.StreamID)
	return nil
}

func handleData(manager *flowmanager.Manager, buf []byte) error {
	d, err := wire.DecodeData(buf)
	if err != nil {
		return err
	}
	key := flowmanager.FlowKey{MeasurementID: d.MeasurementID, FlowID: d.FlowID, StreamID: d.StreamID}
	f, ok := manager.Flow(key)
	if !ok {
		return fmt.Errorf("Data for unknown flow %d/%d/%d", d.MeasurementID, d.FlowID, d.StreamID)
	}
	f.ReceiveData(flow.Now(), d)
	return nil
}
