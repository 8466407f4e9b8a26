package defrag

import (
	"testing"

	"github.com/dreibh/netperfmeter/wire"
)

func dataMsg(frameID uint32, seq, byteSeq uint64, payloadLen int, begin, end bool) wire.Data {
	return wire.Data{
		FrameID:       frameID,
		SeqNumber:     seq,
		ByteSeqNumber: byteSeq,
		FrameBegin:    begin,
		FrameEnd:      end,
		Payload:       make([]byte, payloadLen),
	}
}

func TestNoLossOnContiguousFrames(t *testing.T) {
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	d.Add(0, dataMsg(1, 1, 100, 100, true, true))
	d.Add(0, dataMsg(2, 2, 200, 100, true, true))

	stats := d.Purge(1000, 1)
	want := PurgeStats{ReceivedFrames: 3, LostFrames: 0, LostPackets: 0, LostBytes: 0}
	if stats != want {
		t.Errorf("got %+v, want %+v", stats, want)
	}
}

func TestFrameGapIsLoss(t *testing.T) {
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	// Frame 1 never arrives.
	d.Add(0, dataMsg(2, 1, 100, 100, true, true))

	stats := d.Purge(1000, 1)
	if stats.LostFrames != 1 {
		t.Errorf("expected 1 lost frame, got %d", stats.LostFrames)
	}
	if stats.ReceivedFrames != 2 {
		t.Errorf("expected 2 received frames, got %d", stats.ReceivedFrames)
	}
}

func TestPacketAndByteGapIsLoss(t *testing.T) {
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	// Packet seq 1 lost; next packet has seq 2, byte offset jumps by 100.
	d.Add(0, dataMsg(1, 2, 200, 100, true, true))

	stats := d.Purge(1000, 1)
	if stats.LostPackets != 1 {
		t.Errorf("expected 1 lost packet, got %d", stats.LostPackets)
	}
	if stats.LostBytes != 100 {
		t.Errorf("expected 100 lost bytes, got %d", stats.LostBytes)
	}
}

func TestPurgeRespectsTimeout(t *testing.T) {
	d := New()
	d.Add(1000, dataMsg(0, 0, 0, 100, true, true))

	// Not yet timed out.
	stats := d.Purge(1500, 1000)
	if !stats.IsZero() {
		t.Errorf("expected no purge before timeout, got %+v", stats)
	}

	// Now timed out.
	stats = d.Purge(2001, 1000)
	if stats.ReceivedFrames != 1 {
		t.Errorf("expected frame to purge after timeout, got %+v", stats)
	}
}

func TestPurgeStopsAtFirstFrameStillWithinTimeout(t *testing.T) {
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	d.Add(2000, dataMsg(1, 1, 100, 100, true, true))

	// Only frame 0 has timed out by t=1500.
	stats := d.Purge(1500, 1000)
	if stats.ReceivedFrames != 1 {
		t.Errorf("expected exactly 1 frame purged, got %+v", stats)
	}
	if d.FrameCount() != 1 {
		t.Errorf("expected 1 frame still pending, got %d", d.FrameCount())
	}
}

func TestPurgeMonotonicity(t *testing.T) {
	// Invariant 6: repeated purge(now, timeout) at the same now is a no-op
	// after the first call.
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	d.Add(0, dataMsg(1, 1, 100, 100, true, true))

	first := d.Purge(5000, 1)
	if first.IsZero() {
		t.Fatal("expected the first purge to report non-zero stats")
	}
	second := d.Purge(5000, 1)
	if !second.IsZero() {
		t.Errorf("expected second purge at same now to be a no-op, got %+v", second)
	}
}

func TestDuplicateFragmentIgnored(t *testing.T) {
	d := New()
	d.Add(0, dataMsg(0, 0, 0, 100, true, true))
	d.Add(0, dataMsg(0, 0, 0, 100, true, true)) // duplicate seq 0

	stats := d.Purge(1000, 1)
	if stats.LostBytes != 0 || stats.LostPackets != 0 {
		t.Errorf("duplicate fragment should not introduce loss, got %+v", stats)
	}
}
