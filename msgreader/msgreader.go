// Package msgreader implements framed, non-blocking message receive over the
// stream and datagram transports NetPerfMeter runs on. It hides partial
// reads, SCTP's end-of-record framing, and in-band SCTP notifications behind
// one small state machine per socket.
package msgreader

import (
	"errors"
	"sync"

	"github.com/dreibh/netperfmeter/wire"
)

// Protocol identifies a data-connection transport.
type Protocol uint8

const (
	TCP Protocol = iota
	MPTCP
	SCTP
	UDP
	DCCP
)

// IsStream reports whether p delivers a byte stream (true) rather than
// one-message-per-receive datagrams (false).
func (p Protocol) IsStream() bool {
	return p == TCP || p == MPTCP || p == SCTP
}

// ErrWouldBlock is returned by a Socket's ReadRaw when no data is currently
// available; it is not an error condition for the Reader.
var ErrWouldBlock = errors.New("msgreader: read would block")

// RawRead describes one low-level read from a Socket.
type RawRead struct {
	N int
	// EndOfRecord is SCTP's MSG_EOR marker. Stream sockets that are not
	// SCTP always report it true (every read chunk is its own "record"
	// boundary as far as framing is concerned).
	EndOfRecord bool
	// Notification marks an SCTP association/stream event delivered
	// in-band instead of payload data.
	Notification bool
}

// Socket is the minimal primitive the Reader needs from a data connection.
// The real implementation (package flowreceiver) polls a netsock.Conn with a
// short read deadline and reports a timeout as ErrWouldBlock.
type Socket interface {
	Protocol() Protocol
	ReadRaw(buf []byte) (RawRead, error)
}

// Result is the outcome of one Receive call.
type Result int

const (
	// FullMessage indicates Receive's returned buffer holds one complete message.
	FullMessage Result = iota
	// PartialRead indicates no complete message is available yet; state was
	// preserved and Receive should be retried once more data is ready.
	PartialRead
	// SocketError indicates the underlying read failed (not would-block).
	SocketError
	// StreamError indicates a framing violation: for TCP/MPTCP this is
	// fatal to the connection; for SCTP the reader resynchronizes on the
	// next complete message.
	StreamError
	// BadSocket indicates Receive was called for an unregistered socket.
	BadSocket
	// Notification indicates an SCTP association/stream event was
	// delivered; the returned buffer holds its raw bytes.
	Notification
)

func (r Result) String() string {
	switch r {
	case FullMessage:
		return "FullMessage"
	case PartialRead:
		return "PartialRead"
	case SocketError:
		return "SocketError"
	case StreamError:
		return "StreamError"
	case BadSocket:
		return "BadSocket"
	case Notification:
		return "Notification"
	default:
		return "Unknown"
	}
}

type readerState int

const (
	waitingForHeader readerState = iota
	partialRead
	streamError
)

type entry struct {
	refCount    int
	buf         []byte
	state       readerState
	bytesRead   int
	expected    int // target byte count for the current phase
	headerKnown bool
}

// Reader is a per-process table of framed-receive state, one entry per
// registered Socket. Socket registration is reference-counted so multiple
// Flows sharing one SCTP association socket can each register independently.
type Reader struct {
	mu      sync.Mutex
	entries map[Socket]*entry
	bufCap  int
}

// NewReader creates a Reader whose per-socket buffers can hold up to bufCap
// bytes -- large enough for the biggest Data message this process will send
// or receive.
func NewReader(bufCap int) *Reader {
	return &Reader{entries: make(map[Socket]*entry), bufCap: bufCap}
}

// AddSocket registers s, or increments its reference count if already
// registered.
func (r *Reader) AddSocket(s Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[s]
	if !ok {
		e = &entry{buf: make([]byte, r.bufCap)}
		r.entries[s] = e
	}
	e.refCount++
}

// RemoveSocket drops one reference to s. It reports true when the reference
// count reached zero and the caller is now responsible for closing the
// underlying descriptor.
func (r *Reader) RemoveSocket(s Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[s]
	if !ok {
		return false
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(r.entries, s)
		return true
	}
	return false
}

// Receive performs one non-blocking framed read attempt on s.
func (r *Reader) Receive(s Socket) (Result, []byte, error) {
	r.mu.Lock()
	e, ok := r.entries[s]
	r.mu.Unlock()
	if !ok {
		return BadSocket, nil, nil
	}

	if s.Protocol().IsStream() {
		return r.receiveStream(s, e)
	}
	return r.receiveDatagram(s, e)
}

func (r *Reader) receiveDatagram(s Socket, e *entry) (Result, []byte, error) {
	raw, err := s.ReadRaw(e.buf)
	if err == ErrWouldBlock {
		return PartialRead, nil, nil
	}
	if err != nil {
		return SocketError, nil, err
	}
	if raw.Notification {
		return Notification, append([]byte(nil), e.buf[:raw.N]...), nil
	}
	h, herr := wire.DecodeHeader(e.buf[:raw.N])
	if herr != nil || int(h.Length) != raw.N {
		return StreamError, nil, herr
	}
	return FullMessage, append([]byte(nil), e.buf[:raw.N]...), nil
}

func (r *Reader) resetEntry(e *entry) {
	e.state = waitingForHeader
	e.bytesRead = 0
	e.expected = wire.HeaderSize
	e.headerKnown = false
}

func (r *Reader) receiveStream(s Socket, e *entry) (Result, []byte, error) {
	if e.expected == 0 {
		r.resetEntry(e)
	}
	if e.state == streamError {
		// SCTP resynchronizes by discarding accumulated bytes and starting
		// fresh on the assumption the next read begins a new message.
		r.resetEntry(e)
	}

	limit := e.expected
	if s.Protocol() == SCTP && !e.headerKnown {
		// An SCTP read never crosses a record boundary, so a new record (or
		// an in-band notification) is read whole instead of header first.
		limit = len(e.buf)
	}
	raw, err := s.ReadRaw(e.buf[e.bytesRead:limit])
	if err == ErrWouldBlock {
		return PartialRead, nil, nil
	}
	if err != nil {
		return SocketError, nil, err
	}
	if raw.Notification {
		if s.Protocol() != SCTP {
			return StreamError, nil, errors.New("msgreader: notification on non-SCTP stream socket")
		}
		return Notification, append([]byte(nil), e.buf[e.bytesRead:e.bytesRead+raw.N]...), nil
	}

	e.bytesRead += raw.N

	if !e.headerKnown {
		if e.bytesRead < wire.HeaderSize {
			return PartialRead, nil, nil
		}
		h, herr := wire.DecodeHeader(e.buf[:wire.HeaderSize])
		if herr != nil || int(h.Length) < wire.HeaderSize || int(h.Length) > len(e.buf) {
			e.state = streamError
			return StreamError, nil, wire.ErrLengthMismatch
		}
		e.expected = int(h.Length)
		e.headerKnown = true
		e.state = partialRead
	}

	if s.Protocol() == SCTP && raw.EndOfRecord && e.bytesRead < e.expected {
		// End-of-record arrived before the declared TLV length was
		// satisfied: a framing violation (the message was not a
		// notification, already handled above).
		e.state = streamError
		return StreamError, nil, errors.New("msgreader: end-of-record before length reached")
	}

	if e.bytesRead < e.expected {
		return PartialRead, nil, nil
	}

	if s.Protocol() == SCTP && !raw.EndOfRecord {
		// Byte count satisfied but SCTP has not signaled end-of-record yet;
		// keep waiting (defensive -- in practice sctp_recvmsg delivers a
		// full record per call).
		return PartialRead, nil, nil
	}

	msg := append([]byte(nil), e.buf[:e.expected]...)
	r.resetEntry(e)
	return FullMessage, msg, nil
}
