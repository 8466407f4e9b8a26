// Package measurement implements one named run (§4.4): its aggregate
// vector/scalar file sinks, the set of flows it owns, and the periodic
// sampling that feeds those files from each flow's live counters.
package measurement

import (
	"fmt"
	"sync"

	"github.com/dreibh/netperfmeter/cpustatus"
	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/outfile"
)

// DefaultStatisticsInterval is the default sampling period, in microseconds.
const DefaultStatisticsInterval = 1_000_000

// TotalFlowID is the sentinel FlowID used on a vector file's per-sample
// totals rows (§6.2: "three totals rows with FlowID=-1").
const TotalFlowID = -1

// FlowKey identifies one flow within a measurement: the (FlowID, StreamID)
// pair (a Measurement never spans more than one control socket, so that pair
// alone disambiguates).
type FlowKey struct {
	FlowID   uint32
	StreamID uint16
}

func keyOf(f *flow.Flow) FlowKey {
	return FlowKey{FlowID: f.FlowID, StreamID: f.StreamID}
}

type flowEntry struct {
	flow *flow.Flow
	last flow.BandwidthStats
}

// Measurement owns the aggregate vector and scalar files for one run, and
// the set of flows currently reporting into it.
type Measurement struct {
	mu sync.Mutex

	MeasurementID uint64
	ControlSocket interface{}

	// Active reports whether this measurement was initialized with a
	// non-empty file-name pattern, the active side's convention; the passive
	// side always initializes with empty patterns. Used only to choose the
	// "-active"/"-passive" file-name suffix and scalar-file side label.
	Active bool

	StatisticsInterval   uint64
	FirstStatisticsEvent uint64
	NextStatisticsEvent  uint64

	VectorFile *outfile.File
	ScalarFile *outfile.File

	flows map[FlowKey]*flowEntry
}

// New initializes a Measurement's files (§4.4 initialize). vectorPattern/
// scalarPattern are name prefixes; vectorFormat/scalarFormat are the
// original-suffix strings outfile.NamePattern appends (e.g. ".vec" or
// ".vec.bz2"); an empty pattern yields a no-op sink. Registration in the
// flow manager's (controlSocket, MeasurementID) table is the caller's
// responsibility (§4.7.3), not this constructor's -- Measurement has no
// knowledge of the manager, avoiding an import cycle.
func New(now uint64, controlSocket interface{}, measurementID uint64, vectorPattern, vectorFormat, scalarPattern, scalarFormat string) (*Measurement, error) {
	active := vectorPattern != "" || scalarPattern != ""

	vectorName := outfile.NamePattern(vectorPattern, active, "", vectorFormat)
	scalarName := outfile.NamePattern(scalarPattern, active, "", scalarFormat)

	vf, err := outfile.New(vectorName)
	if err != nil {
		return nil, fmt.Errorf("measurement: opening vector file: %w", err)
	}
	sf, err := outfile.New(scalarName)
	if err != nil {
		return nil, fmt.Errorf("measurement: opening scalar file: %w", err)
	}

	m := &Measurement{
		MeasurementID:        measurementID,
		ControlSocket:        controlSocket,
		Active:               active,
		StatisticsInterval:   DefaultStatisticsInterval,
		FirstStatisticsEvent: now,
		NextStatisticsEvent:  now + DefaultStatisticsInterval,
		VectorFile:           vf,
		ScalarFile:           sf,
		flows:                make(map[FlowKey]*flowEntry),
	}
	if vf.Name() != "" {
		vf.WriteLine("AbsTime RelTime Interval\tFlowID Description Jitter\tAction\tAbsBytes AbsPackets AbsFrames\tRelBytes RelPackets RelFrames")
	}
	return m, nil
}

// AttachFlow registers f as reporting into m, with a zero last-sample
// snapshot so its first sampled delta is its full absolute total.
func (m *Measurement) AttachFlow(f *flow.Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[keyOf(f)] = &flowEntry{flow: f}
}

// DetachFlow removes a flow from this measurement's sampling set, e.g. when
// it is reparented to a null measurement (§4.4 destroy).
func (m *Measurement) DetachFlow(key FlowKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, key)
}

// Flows returns the flows currently reporting into m.
func (m *Measurement) Flows() []*flow.Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*flow.Flow, 0, len(m.flows))
	for _, e := range m.flows {
		out = append(out, e.flow)
	}
	return out
}

// Finish flushes (and, if closeFiles, closes) both output files (§4.4
// finish).
func (m *Measurement) Finish(closeFiles bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if e := m.VectorFile.Finish(closeFiles); e != nil {
		err = e
	}
	if e := m.ScalarFile.Finish(closeFiles); e != nil && err == nil {
		err = e
	}
	return err
}

type sample struct {
	action string
	bytes  uint64
	pkts   uint64
	frames uint64
}

func samplesOf(s flow.BandwidthStats) [3]sample {
	return [3]sample{
		{"Sent", s.TransmittedBytes, s.TransmittedPackets, s.TransmittedFrames},
		{"Received", s.ReceivedBytes, s.ReceivedPackets, s.ReceivedFrames},
		{"Lost", s.LostBytes, s.LostPackets, s.LostFrames},
	}
}

// WriteVectorStatistics emits one Sent/Received/Lost block per flow plus a
// totals block, if the scheduled sampling event has been reached (§4.4
// writeVectorStatistics). It reports whether a sample was written.
func (m *Measurement) WriteVectorStatistics(now uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now < m.NextStatisticsEvent {
		return false
	}

	relTime := now - m.FirstStatisticsEvent
	var totalAbs, totalDelta flow.BandwidthStats

	for key, entry := range m.flows {
		abs := entry.flow.Snapshot()
		delta := abs.Sub(entry.last)
		entry.last = abs
		totalAbs = totalAbs.Add(abs)
		totalDelta = totalDelta.Add(delta)

		absSamples := samplesOf(abs)
		deltaSamples := samplesOf(delta)
		for i := range absSamples {
			m.writeVectorLine(now, relTime, int64(key.FlowID), entry.flow.Spec.Description,
				entry.flow.Jitter(), absSamples[i], deltaSamples[i])
		}
	}

	absSamples := samplesOf(totalAbs)
	deltaSamples := samplesOf(totalDelta)
	for i := range absSamples {
		m.writeVectorLine(now, relTime, TotalFlowID, "Total", 0, absSamples[i], deltaSamples[i])
	}

	if m.StatisticsInterval > 0 {
		for m.NextStatisticsEvent <= now {
			m.NextStatisticsEvent += m.StatisticsInterval
		}
	}
	return true
}

func (m *Measurement) writeVectorLine(now, relTime uint64, flowID int64, description string, jitter float64, abs, delta sample) {
	if m.VectorFile.Name() == "" {
		return
	}
	line := fmt.Sprintf("%d %d %d\t%d %s %.3f\t%s\t%d %d %d\t%d %d %d",
		now, relTime, m.StatisticsInterval,
		flowID, description, jitter,
		abs.action,
		abs.bytes, abs.pkts, abs.frames,
		delta.bytes, delta.pkts, delta.frames)
	m.VectorFile.WriteLine(line)
}

// WriteScalarStatistics emits one scalar line per flow metric plus totals
// and per-CPU utilization (§4.4 writeScalarStatistics, §6.2 format).
func (m *Measurement) WriteScalarStatistics(cpu cpustatus.Sampler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	side := "passive"
	if m.Active {
		side = "active"
	}

	var total flow.BandwidthStats
	for _, entry := range m.flows {
		abs := entry.flow.Snapshot()
		total = total.Add(abs)
		object := fmt.Sprintf("netPerfMeter.%s.flow[%d]", side, entry.flow.FlowID)
		m.writeScalarFor(object, abs, entry.flow.Jitter())
	}
	m.writeScalarFor(fmt.Sprintf("netPerfMeter.%s.total", side), total, 0)

	if cpu == nil {
		return
	}
	for i := 1; i <= cpu.NumCPUs(); i++ {
		m.scalarLine(fmt.Sprintf("netPerfMeter.%s.CPU[%d]", side, i-1), "utilization", cpu.Utilization(i))
	}
	m.scalarLine(fmt.Sprintf("netPerfMeter.%s.totalCPU", side), "utilization", cpu.Utilization(0))
}

func (m *Measurement) writeScalarFor(object string, s flow.BandwidthStats, jitter float64) {
	m.scalarLine(object, "transmittedBytes", s.TransmittedBytes)
	m.scalarLine(object, "transmittedPackets", s.TransmittedPackets)
	m.scalarLine(object, "transmittedFrames", s.TransmittedFrames)
	m.scalarLine(object, "receivedBytes", s.ReceivedBytes)
	m.scalarLine(object, "receivedPackets", s.ReceivedPackets)
	m.scalarLine(object, "receivedFrames", s.ReceivedFrames)
	m.scalarLine(object, "lostBytes", s.LostBytes)
	m.scalarLine(object, "lostPackets", s.LostPackets)
	m.scalarLine(object, "lostFrames", s.LostFrames)
	m.scalarLine(object, "jitter", jitter)
}

func (m *Measurement) scalarLine(object, metric string, value interface{}) {
	if m.ScalarFile.Name() == "" {
		return
	}
	m.ScalarFile.WriteLine(fmt.Sprintf("scalar %q %q %v", object, metric, value))
}
