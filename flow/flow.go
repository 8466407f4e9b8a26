package flow

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dreibh/netperfmeter/defrag"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/outfile"
)

// State is a Flow's InputStatus/OutputStatus.
type State uint8

const (
	WaitingForStartup State = iota
	On
	Off
)

func (s State) String() string {
	switch s {
	case WaitingForStartup:
		return "WaitingForStartup"
	case On:
		return "On"
	case Off:
		return "Off"
	default:
		return "Unknown"
	}
}

// BandwidthStats is the 9-tuple of transmitted/received/lost byte, packet,
// and frame counters.
type BandwidthStats struct {
	TransmittedBytes, TransmittedPackets, TransmittedFrames uint64
	ReceivedBytes, ReceivedPackets, ReceivedFrames          uint64
	LostBytes, LostPackets, LostFrames                      uint64
}

// Add returns the element-wise sum of a and b.
func (a BandwidthStats) Add(b BandwidthStats) BandwidthStats {
	return BandwidthStats{
		TransmittedBytes: a.TransmittedBytes + b.TransmittedBytes, TransmittedPackets: a.TransmittedPackets + b.TransmittedPackets, TransmittedFrames: a.TransmittedFrames + b.TransmittedFrames,
		ReceivedBytes: a.ReceivedBytes + b.ReceivedBytes, ReceivedPackets: a.ReceivedPackets + b.ReceivedPackets, ReceivedFrames: a.ReceivedFrames + b.ReceivedFrames,
		LostBytes: a.LostBytes + b.LostBytes, LostPackets: a.LostPackets + b.LostPackets, LostFrames: a.LostFrames + b.LostFrames,
	}
}

// Sub returns the element-wise difference a - b.
func (a BandwidthStats) Sub(b BandwidthStats) BandwidthStats {
	return BandwidthStats{
		TransmittedBytes: a.TransmittedBytes - b.TransmittedBytes, TransmittedPackets: a.TransmittedPackets - b.TransmittedPackets, TransmittedFrames: a.TransmittedFrames - b.TransmittedFrames,
		ReceivedBytes: a.ReceivedBytes - b.ReceivedBytes, ReceivedPackets: a.ReceivedPackets - b.ReceivedPackets, ReceivedFrames: a.ReceivedFrames - b.ReceivedFrames,
		LostBytes: a.LostBytes - b.LostBytes, LostPackets: a.LostPackets - b.LostPackets, LostFrames: a.LostFrames - b.LostFrames,
	}
}

// Conn is the send-side primitive a Flow drives. Implementations wrap a
// connected (dialed or accepted) socket for the flow's transport.
type Conn interface {
	Write(b []byte) (int, error)
	// Shutdown half-closes the write side, used at Stop so the peer observes
	// EOF on stream transports.
	Shutdown() error
	Close() error
}

// MeasurementKey identifies the Measurement a Flow belongs to without the
// Flow holding an owning reference to it (see DESIGN.md on the
// FlowManager/Measurement/Flow ownership cycle).
type MeasurementKey struct {
	ControlSocket interface{}
	MeasurementID uint64
}

// Flow is one logical traffic stream: identifier triple, TrafficSpec,
// socket, per-flow defragmenter, vector file, and live counters.
type Flow struct {
	mu sync.Mutex

	FlowID        uint32
	MeasurementID uint64
	StreamID      uint16
	Measurement   MeasurementKey

	Spec       TrafficSpec
	Conn       Conn
	Socket     msgreader.Socket // shared identity used for reader dedup/lookup
	RemoteKnown bool

	InputStatus, OutputStatus State

	Defrag     *defrag.Defragmenter
	VectorFile *outfile.File

	// Total is the absolute transmitted/received/lost counters since
	// measurement start (invariant 1). Per-sample deltas for the vector
	// file are computed by the Measurement, which keeps its own snapshot of
	// Total per flow rather than this Flow tracking a redundant copy.
	Total BandwidthStats

	TimeBase uint64

	nextFrameID    uint32
	nextSeq        uint64
	nextByteSeq    uint64
	firstTx, lastTx uint64
	firstRx, lastRx uint64

	haveLastDelay bool
	lastDelay     int64
	jitter        float64

	schedule  []uint64 // absolute microsecond deadlines, alternating On/Off
	cancelled bool

	rng *rand.Rand
}

// New creates a Flow ready for startMeasurement to attach.
func New(flowID uint32, measurementID uint64, streamID uint16, spec TrafficSpec) *Flow {
	return NewWithRand(flowID, measurementID, streamID, spec, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand is New with an injected random source, for deterministic tests.
func NewWithRand(flowID uint32, measurementID uint64, streamID uint16, spec TrafficSpec, rng *rand.Rand) *Flow {
	return &Flow{
		FlowID:        flowID,
		MeasurementID: measurementID,
		StreamID:      streamID,
		Spec:          spec,
		Defrag:        defrag.New(),
		InputStatus:   WaitingForStartup,
		OutputStatus:  WaitingForStartup,
		rng:           rng,
	}
}

// Lock/Unlock expose the flow's mutex so the FlowManager can serialize
// access per §5's "per-flow lock" ordering rule (manager lock, then
// per-flow lock, never the reverse).
func (f *Flow) Lock()   { f.mu.Lock() }
func (f *Flow) Unlock() { f.mu.Unlock() }

// Cancel requests the sender loop to stop at its next iteration.
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
}

func (f *Flow) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Start arms the flow for measurement: TimeBase, initial status, and the
// materialized On/Off schedule (§4.7.3 step 2, §9 design note).
func (f *Flow) Start(now uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TimeBase = now
	f.InputStatus = On
	if len(f.Spec.OnOffEvents) == 0 {
		f.OutputStatus = On
	} else {
		f.OutputStatus = Off
	}
	f.schedule = materializeSchedule(now, f.Spec.OnOffEvents, f.rng)
	f.cancelled = false
}

// materializeSchedule converts the event list into a queue of absolute
// deadlines, drawing each generator once. RelTime events are measured from
// flowStart; absolute events carry their own absolute value directly.
func materializeSchedule(flowStart uint64, events []OnOffEvent, rng *rand.Rand) []uint64 {
	deadlines := make([]uint64, 0, len(events))
	for _, e := range events {
		v := e.Generator.Draw(rng)
		if v < 0 {
			v = 0
		}
		var deadline uint64
		if e.RelTime {
			deadline = flowStart + uint64(v)
		} else {
			deadline = uint64(v)
		}
		deadlines = append(deadlines, deadline)
	}
	return deadlines
}
