package msgreader

import (
	"bytes"
	"testing"

	"github.com/dreibh/netperfmeter/wire"
)

// fakeSocket replays a scripted sequence of chunks, each delivered by one
// ReadRaw call, mimicking how a non-blocking socket trickles in bytes.
type fakeSocket struct {
	proto  Protocol
	chunks [][]byte
	eor    []bool
	pos    int
}

func (f *fakeSocket) Protocol() Protocol { return f.proto }

func (f *fakeSocket) ReadRaw(buf []byte) (RawRead, error) {
	if f.pos >= len(f.chunks) {
		return RawRead{}, ErrWouldBlock
	}
	chunk := f.chunks[f.pos]
	eor := f.eor[f.pos]
	f.pos++
	n := copy(buf, chunk)
	return RawRead{N: n, EndOfRecord: eor}, nil
}

func splitBytes(buf []byte, sizes ...int) [][]byte {
	var out [][]byte
	off := 0
	for _, sz := range sizes {
		out = append(out, buf[off:off+sz])
		off += sz
	}
	return out
}

func TestReceiveTCPFullMessageInOneRead(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 7})
	sock := &fakeSocket{proto: TCP, chunks: [][]byte{msg}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, got, err := r.Receive(sock)
	if err != nil {
		t.Fatal(err)
	}
	if res != FullMessage {
		t.Fatalf("expected FullMessage, got %v", res)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("message mismatch")
	}
}

func TestReceiveTCPSplitAcrossReads(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 42})
	chunks := splitBytes(msg, 2, 2, len(msg)-4)
	sock := &fakeSocket{proto: TCP, chunks: chunks, eor: []bool{true, true, true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	for i := 0; i < len(chunks)-1; i++ {
		res, _, err := r.Receive(sock)
		if err != nil {
			t.Fatal(err)
		}
		if res != PartialRead {
			t.Fatalf("read %d: expected PartialRead, got %v", i, res)
		}
	}
	res, got, err := r.Receive(sock)
	if err != nil {
		t.Fatal(err)
	}
	if res != FullMessage {
		t.Fatalf("expected FullMessage on final chunk, got %v", res)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("message mismatch after reassembly")
	}
}

func TestReceiveTCPThenNextMessageResets(t *testing.T) {
	msg1 := wire.EncodeStop(wire.Stop{MeasurementID: 1})
	msg2 := wire.EncodeStart(wire.Start{MeasurementID: 2})
	sock := &fakeSocket{proto: TCP, chunks: [][]byte{msg1, msg2}, eor: []bool{true, true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res1, got1, _ := r.Receive(sock)
	if res1 != FullMessage || !bytes.Equal(got1, msg1) {
		t.Fatalf("first message: %v", res1)
	}
	res2, got2, _ := r.Receive(sock)
	if res2 != FullMessage || !bytes.Equal(got2, msg2) {
		t.Fatalf("second message: %v", res2)
	}
}

func TestReceiveWouldBlockPreservesState(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 9})
	sock := &fakeSocket{proto: TCP, chunks: [][]byte{msg[:2]}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, _, _ := r.Receive(sock)
	if res != PartialRead {
		t.Fatalf("expected PartialRead, got %v", res)
	}
	// No more chunks queued: simulate would-block.
	res, _, _ = r.Receive(sock)
	if res != PartialRead {
		t.Fatalf("expected PartialRead on would-block, got %v", res)
	}
}

func TestReceiveBadLengthIsStreamError(t *testing.T) {
	bad := make([]byte, wire.HeaderSize)
	bad[0] = byte(wire.TypeStop)
	// Length smaller than header size.
	bad[2] = 0
	bad[3] = 1
	sock := &fakeSocket{proto: TCP, chunks: [][]byte{bad}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, _, _ := r.Receive(sock)
	if res != StreamError {
		t.Fatalf("expected StreamError, got %v", res)
	}
}

func TestReceiveSCTPEndOfRecordBeforeLengthIsError(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 3})
	sock := &fakeSocket{proto: SCTP, chunks: [][]byte{msg[:len(msg)-2]}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, _, _ := r.Receive(sock)
	if res != StreamError {
		t.Fatalf("expected StreamError for early end-of-record, got %v", res)
	}
}

func TestReceiveSCTPNotification(t *testing.T) {
	sock := &fakeSocket{proto: SCTP, chunks: [][]byte{[]byte("assoc-change")}, eor: []bool{true}}
	// Mark the single chunk as a notification by wrapping ReadRaw.
	notifySock := &notifyingSocket{fakeSocket: sock}
	r := NewReader(4096)
	r.AddSocket(notifySock)

	res, got, err := r.Receive(notifySock)
	if err != nil {
		t.Fatal(err)
	}
	if res != Notification {
		t.Fatalf("expected Notification, got %v", res)
	}
	if !bytes.Equal(got, []byte("assoc-change")) {
		t.Errorf("notification payload mismatch")
	}
}

type notifyingSocket struct {
	*fakeSocket
}

func (n *notifyingSocket) ReadRaw(buf []byte) (RawRead, error) {
	raw, err := n.fakeSocket.ReadRaw(buf)
	if err == nil {
		raw.Notification = true
	}
	return raw, err
}

func TestReceiveUDPSingleDatagram(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 123})
	sock := &fakeSocket{proto: UDP, chunks: [][]byte{msg}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, got, err := r.Receive(sock)
	if err != nil {
		t.Fatal(err)
	}
	if res != FullMessage || !bytes.Equal(got, msg) {
		t.Fatalf("expected full UDP datagram, got %v", res)
	}
}

func TestReceiveUDPLengthMismatch(t *testing.T) {
	msg := wire.EncodeStop(wire.Stop{MeasurementID: 1})
	truncated := msg[:len(msg)-1]
	sock := &fakeSocket{proto: UDP, chunks: [][]byte{truncated}, eor: []bool{true}}
	r := NewReader(4096)
	r.AddSocket(sock)

	res, _, _ := r.Receive(sock)
	if res != StreamError {
		t.Fatalf("expected StreamError for datagram length mismatch, got %v", res)
	}
}

func TestReceiveBadSocket(t *testing.T) {
	r := NewReader(4096)
	sock := &fakeSocket{proto: TCP}
	res, _, _ := r.Receive(sock)
	if res != BadSocket {
		t.Fatalf("expected BadSocket for unregistered socket, got %v", res)
	}
}

func TestRefCountedRemoval(t *testing.T) {
	r := NewReader(4096)
	sock := &fakeSocket{proto: TCP}
	r.AddSocket(sock)
	r.AddSocket(sock)
	if r.RemoveSocket(sock) {
		t.Fatal("first removal should not yet drop the socket")
	}
	if !r.RemoveSocket(sock) {
		t.Fatal("second removal should drop the socket")
	}
	if r.RemoveSocket(sock) {
		t.Fatal("removing an already-removed socket should report false")
	}
}
