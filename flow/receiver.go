package flow

import (
	"fmt"

	"github.com/dreibh/netperfmeter/wire"
)

// ReceiveData implements §4.5.4: purge any now-timed-out fragments,
// account the new packet, update jitter, and emit a per-flow vector line.
// now is the receiver's current microsecond clock.
func (f *Flow) ReceiveData(now uint64, msg wire.Data) {
	f.mu.Lock()
	defer f.mu.Unlock()

	purged := f.Defrag.Purge(now, f.Spec.DefragTimeoutMicros)
	f.Total.LostBytes += purged.LostBytes
	f.Total.LostPackets += purged.LostPackets
	f.Total.LostFrames += purged.LostFrames

	f.Defrag.Add(now, msg)

	if f.firstRx == 0 {
		f.firstRx = now
	}
	f.lastRx = now

	payloadLen := uint64(len(msg.Payload))
	f.Total.ReceivedBytes += payloadLen
	f.Total.ReceivedPackets++
	if msg.FrameEnd {
		f.Total.ReceivedFrames++
	}

	delay := int64(now) - int64(msg.TimeStamp)
	var deltaDelay int64
	if f.haveLastDelay {
		deltaDelay = delay - f.lastDelay
		if deltaDelay < 0 {
			deltaDelay = -deltaDelay
		}
		f.jitter += (float64(deltaDelay) - f.jitter) / 16
	}
	f.lastDelay = delay
	f.haveLastDelay = true

	if f.VectorFile != nil {
		line := fmt.Sprintf("%d %d %d %d %d %.3f",
			now, now-f.TimeBase, msg.SeqNumber, delay, deltaDelay, f.jitter)
		f.VectorFile.WriteLine(line)
	}
}

// Jitter returns the flow's current RFC 3550-style jitter estimate.
func (f *Flow) Jitter() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jitter
}

// PurgeDefrag accounts any now-timed-out fragments without a corresponding
// new packet, for the flow manager's periodic statistics sampling (idle
// flows still need their loss accounted even with no recent receive).
func (f *Flow) PurgeDefrag(now uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	purged := f.Defrag.Purge(now, f.Spec.DefragTimeoutMicros)
	f.Total.LostBytes += purged.LostBytes
	f.Total.LostPackets += purged.LostPackets
	f.Total.LostFrames += purged.LostFrames
}

// Snapshot returns a copy of the flow's absolute counters.
func (f *Flow) Snapshot() BandwidthStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Total
}

// Status returns the flow's current (InputStatus, OutputStatus).
func (f *Flow) Status() (input, output State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.InputStatus, f.OutputStatus
}
