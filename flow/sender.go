package flow

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/dreibh/netperfmeter/wire"
)

// epsilon is the "effectively zero" frame-rate threshold below which a flow
// is considered saturated (§4.5.2 step 2).
const epsilon = 1e-6

// Now returns the current time as microseconds since an arbitrary epoch,
// matching the wire Data message's TimeStamp field and the spec's
// microTime() convention. It is a var so tests can substitute a fake clock.
var Now = func() uint64 {
	return uint64(time.Now().UnixMicro())
}

// nextStatusChange returns the earliest pending schedule deadline, or
// (0, false) if the schedule is empty or the flow hasn't started.
func (f *Flow) nextStatusChange() (uint64, bool) {
	if f.OutputStatus == WaitingForStartup || len(f.schedule) == 0 {
		return 0, false
	}
	return f.schedule[0], true
}

// nextTransmission computes when the next frame should fire, per §4.5.2
// step 2. ok is false when sending is disabled (zero frame size).
func nextTransmission(lastTx uint64, spec TrafficSpec, rng *rand.Rand) (deadline uint64, saturated bool, ok bool) {
	size := spec.OutboundFrameSize.Params[0]
	rateGen := spec.OutboundFrameRate
	if size <= 0 {
		return 0, false, false
	}
	rate := rateGen.Draw(rng)
	if rate <= epsilon {
		return 0, true, true
	}
	return lastTx + uint64(1e6/rate), false, true
}

// popSchedule advances past the earliest schedule deadline, flipping
// OutputStatus, and refills the queue if RepeatOnOff is set and it just ran
// dry (§9 design note: "a pair of deltas into an infinite repeating
// sequence").
func (f *Flow) popSchedule(now uint64) {
	if len(f.schedule) == 0 {
		return
	}
	f.schedule = f.schedule[1:]
	if f.OutputStatus == On {
		f.OutputStatus = Off
	} else {
		f.OutputStatus = On
	}
	if len(f.schedule) == 0 && f.Spec.RepeatOnOff && len(f.Spec.OnOffEvents) > 0 {
		f.schedule = materializeSchedule(now, f.Spec.OnOffEvents, f.rng)
	}
}

// ErrSendFailed is returned by transmitFrame when the underlying Conn.Write
// fails on a transport that does not tolerate transient send errors.
var ErrSendFailed = errors.New("flow: send failed")

// transmitFrame sends one logical frame (§4.5.3), chunked into Data packets
// whose payloads are at most spec.MaxMsgSize bytes each; every packet is the
// Data header plus its payload.
// frameSize == 0 means "use MaxMsgSize", the saturated-sender convention.
func (f *Flow) transmitFrame(now uint64, frameSize int) error {
	if frameSize <= 0 {
		frameSize = int(f.Spec.MaxMsgSize)
	}
	if frameSize <= 0 {
		return nil
	}
	frameID := f.nextFrameID
	f.nextFrameID++

	remaining := frameSize
	first := true
	for remaining > 0 {
		chunk := remaining
		maxChunk := int(f.Spec.MaxMsgSize)
		if maxChunk <= 0 || maxChunk > 65536 {
			maxChunk = 65536
		}
		if chunk > maxChunk {
			chunk = maxChunk
		}
		if chunk < 1 {
			chunk = 1
		}
		last := chunk == remaining
		msg := wire.Data{
			FlowID:        f.FlowID,
			MeasurementID: f.MeasurementID,
			StreamID:      f.StreamID,
			FrameID:       frameID,
			SeqNumber:     f.nextSeq,
			ByteSeqNumber: f.nextByteSeq,
			TimeStamp:     now,
			FrameBegin:    first,
			FrameEnd:      last,
			Payload:       make([]byte, chunk),
		}
		buf := wire.EncodeData(msg)

		if _, err := f.Conn.Write(buf); err != nil {
			if f.Spec.Protocol.IsStream() {
				return ErrSendFailed
			}
			// UDP: transient send failures are recoverable (§4.5.2 step 4).
			return nil
		}

		f.mu.Lock()
		f.Total.TransmittedBytes += uint64(chunk)
		f.Total.TransmittedPackets++
		if f.firstTx == 0 {
			f.firstTx = now
		}
		f.lastTx = now
		f.mu.Unlock()

		f.nextSeq++
		f.nextByteSeq += uint64(chunk)
		remaining -= chunk
		first = false
	}

	f.mu.Lock()
	f.Total.TransmittedFrames++
	f.mu.Unlock()
	return nil
}

// Run executes the sender loop (§4.5.2) until ctx is cancelled or f.Cancel
// is called. It is meant to run in its own goroutine, one per active Flow.
func (f *Flow) Run(ctx context.Context) error {
	for {
		if f.isCancelled() || ctx.Err() != nil {
			return nil
		}

		f.mu.Lock()
		statusDeadline, haveStatus := f.nextStatusChange()
		lastTx := f.lastTx
		spec := f.Spec
		outStatus := f.OutputStatus
		f.mu.Unlock()

		now := Now()
		txDeadline, saturated, txEnabled := nextTransmission(lastTx, spec, f.rng)

		wake := now + uint64(time.Second.Microseconds())
		if haveStatus && statusDeadline < wake {
			wake = statusDeadline
		}
		if txEnabled && !saturated && txDeadline < wake {
			wake = txDeadline
		}
		if txEnabled && saturated {
			wake = now
		}

		if wake > now {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(wake-now) * time.Microsecond):
			}
		}

		now = Now()
		if outStatus == On {
			if saturated {
				// Saturated sender: burst while the budget allows, capped at
				// 1 second of catch-up to avoid bursting after a suspension.
				deadline := now + uint64(time.Second.Microseconds())
				for now < deadline {
					if f.isCancelled() {
						return nil
					}
					size := int(spec.OutboundFrameSize.Draw(f.rng))
					if err := f.transmitFrame(now, size); err != nil {
						return err
					}
					now = Now()
					if !saturatedStillDue(spec) {
						break
					}
				}
			} else if txEnabled && now >= txDeadline {
				size := int(spec.OutboundFrameSize.Draw(f.rng))
				if err := f.transmitFrame(now, size); err != nil {
					return err
				}
			}
		}

		f.mu.Lock()
		if haveStatus && now >= statusDeadline {
			f.popSchedule(now)
		}
		f.mu.Unlock()
	}
}

func saturatedStillDue(spec TrafficSpec) bool {
	return spec.OutboundFrameSize.Params[0] > 0 && spec.OutboundFrameRate.Params[0] <= epsilon
}
