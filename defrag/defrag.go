// Package defrag reassembles frames split across multiple data packets for
// one receive direction of one flow, and accounts packet/frame/byte loss on
// timeout.
package defrag

import (
	"sort"

	"github.com/dreibh/netperfmeter/wire"
)

type fragment struct {
	packetSeqNumber uint64
	byteSeqNumber   uint64
	length          uint16
	flags           uint8
}

type frame struct {
	frameID    uint32
	lastUpdate uint64
	fragments  map[uint64]fragment // keyed by PacketSeqNumber
	completed  bool
}

// PurgeStats is the accounting produced by one Purge call.
type PurgeStats struct {
	ReceivedFrames uint64
	LostFrames     uint64
	LostPackets    uint64
	LostBytes      uint64
}

// Add combines the stats from two purges, e.g. to accumulate across several
// calls within one reporting interval.
func (s PurgeStats) Add(o PurgeStats) PurgeStats {
	return PurgeStats{
		ReceivedFrames: s.ReceivedFrames + o.ReceivedFrames,
		LostFrames:     s.LostFrames + o.LostFrames,
		LostPackets:    s.LostPackets + o.LostPackets,
		LostBytes:      s.LostBytes + o.LostBytes,
	}
}

// IsZero reports whether every counter in s is zero.
func (s PurgeStats) IsZero() bool {
	return s == PurgeStats{}
}

// Defragmenter reassembles one receive direction of one flow. It is not
// safe for concurrent use; callers serialize access the same way the owning
// Flow serializes its receive-side counters.
type Defragmenter struct {
	frames              map[uint32]*frame
	nextFrameID         uint32
	nextPacketSeqNumber uint64
	nextByteSeqNumber   uint64
}

// New creates an empty Defragmenter.
func New() *Defragmenter {
	return &Defragmenter{frames: make(map[uint32]*frame)}
}

// Add inserts one received data packet into the reassembly state. now is the
// receiver's current microsecond clock, used to time out frames that never
// complete. Duplicate (same SeqNumber) fragments within a frame are ignored.
func (d *Defragmenter) Add(now uint64, msg wire.Data) {
	f, ok := d.frames[msg.FrameID]
	if !ok {
		f = &frame{
			frameID:    msg.FrameID,
			lastUpdate: now,
			fragments:  make(map[uint64]fragment),
		}
		d.frames[msg.FrameID] = f
	}
	if _, dup := f.fragments[msg.SeqNumber]; dup {
		return
	}
	f.lastUpdate = now
	f.fragments[msg.SeqNumber] = fragment{
		packetSeqNumber: msg.SeqNumber,
		byteSeqNumber:   msg.ByteSeqNumber,
		length:          uint16(len(msg.Payload)),
		flags:           dataFlags(msg),
	}
	if msg.FrameEnd {
		f.completed = true
	}
}

func dataFlags(msg wire.Data) uint8 {
	var flags uint8
	if msg.FrameBegin {
		flags |= wire.DataFlagFrameBegin
	}
	if msg.FrameEnd {
		flags |= wire.DataFlagFrameEnd
	}
	return flags
}

// Purge walks frames in ascending FrameID order and retires every frame
// whose LastUpdate+timeoutMicros <= now, accounting any gap in frame,
// packet, and byte sequence numbers as loss. It stops at the first frame
// still within its timeout, so only the timed-out prefix of the
// FrameID-ordered frames is retired; later frames wait for a later pass.
func (d *Defragmenter) Purge(now, timeoutMicros uint64) PurgeStats {
	ids := d.sortedFrameIDs()

	var stats PurgeStats
	for _, id := range ids {
		f := d.frames[id]
		if f.lastUpdate+timeoutMicros > now {
			break
		}

		if f.frameID > d.nextFrameID {
			stats.LostFrames += uint64(f.frameID - d.nextFrameID)
		}
		stats.ReceivedFrames++
		d.nextFrameID = f.frameID + 1

		for _, seq := range sortedFragmentKeys(f.fragments) {
			frag := f.fragments[seq]
			if frag.byteSeqNumber > d.nextByteSeqNumber {
				stats.LostBytes += frag.byteSeqNumber - d.nextByteSeqNumber
			}
			d.nextByteSeqNumber = frag.byteSeqNumber + uint64(frag.length)

			if frag.packetSeqNumber > d.nextPacketSeqNumber {
				stats.LostPackets += frag.packetSeqNumber - d.nextPacketSeqNumber
			}
			d.nextPacketSeqNumber = frag.packetSeqNumber + 1
		}

		delete(d.frames, id)
	}
	return stats
}

func (d *Defragmenter) sortedFrameIDs() []uint32 {
	ids := make([]uint32, 0, len(d.frames))
	for id := range d.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedFragmentKeys(m map[uint64]fragment) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// FrameCount reports the number of frames currently awaiting their timeout,
// for diagnostics.
func (d *Defragmenter) FrameCount() int {
	return len(d.frames)
}
