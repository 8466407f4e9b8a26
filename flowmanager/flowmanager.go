// Package flowmanager implements the global flow/measurement registry and
// socket-identification/start-stop orchestration described in §4.7. It is
// the one place that knows how a Flow, its socket, and its Measurement are
// related, keeping Flow itself free of an owning pointer back to either.
package flowmanager

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dreibh/netperfmeter/cpustatus"
	"github.com/dreibh/netperfmeter/eventsocket"
	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/measurement"
	"github.com/dreibh/netperfmeter/netsock"
	"github.com/dreibh/netperfmeter/outfile"
	"github.com/dreibh/netperfmeter/wire"
)

// FlowKey identifies one Flow globally: the (MeasurementID, FlowID,
// StreamID) identifier triple (GLOSSARY "Flow").
type FlowKey struct {
	MeasurementID uint64
	FlowID        uint32
	StreamID      uint16
}

// MeasurementKey identifies one Measurement: a (control socket, MeasurementID)
// pair -- the same type as flow.MeasurementKey, redeclared here since
// Measurement's owner is this package, not flow.
type MeasurementKey struct {
	ControlSocket interface{}
	MeasurementID uint64
}

type flowRecord struct {
	flow   *flow.Flow
	cancel context.CancelFunc
	done   chan struct{}
}

// UnidentifiedSocket is a freshly-accepted data connection awaiting its
// IdentifyFlow message (§4.7.2).
type UnidentifiedSocket struct {
	Conn netsock.Conn
}

// ErrDuplicateFlow is returned by AddFlow when a Flow with the same
// identifier triple is already registered.
var ErrDuplicateFlow = fmt.Errorf("flowmanager: duplicate flow identifier")

// ErrDuplicateMeasurement is returned by StartMeasurement when a
// Measurement with the same (control socket, MeasurementID) key already
// exists.
var ErrDuplicateMeasurement = fmt.Errorf("flowmanager: duplicate measurement key")

// ErrNoSuchFlow / ErrNoSuchMeasurement report a lookup miss.
var (
	ErrNoSuchFlow        = fmt.Errorf("flowmanager: no such flow")
	ErrNoSuchMeasurement = fmt.Errorf("flowmanager: no such measurement")
)

// Manager is the §4.7 singleton, instantiated once per process by
// cmd/netperfmeter and shared by the active and passive control drivers.
type Manager struct {
	mu sync.Mutex

	flows         map[FlowKey]*flowRecord
	unidentified  map[netsock.Conn]*UnidentifiedSocket
	measurements  map[MeasurementKey]*measurement.Measurement
	cpu           cpustatus.Sampler
	notifier      eventsocket.Server
}

// New creates an empty Manager. cpu may be nil if CPU sampling is not
// wanted (e.g. in tests). The Manager starts with a no-op event notifier;
// call SetNotifier to broadcast flow lifecycle events over a unix socket.
func New(cpu cpustatus.Sampler) *Manager {
	return &Manager{
		flows:        make(map[FlowKey]*flowRecord),
		unidentified: make(map[netsock.Conn]*UnidentifiedSocket),
		measurements: make(map[MeasurementKey]*measurement.Measurement),
		cpu:          cpu,
		notifier:     eventsocket.NullServer(),
	}
}

// SetNotifier replaces the Manager's event notifier. Must be called before
// any flow is added if the caller wants every lifecycle event observed.
func (m *Manager) SetNotifier(n eventsocket.Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

func flowUUID(key FlowKey) string {
	return fmt.Sprintf("%d/%d/%d", key.MeasurementID, key.FlowID, key.StreamID)
}

func flowKeyOf(f *flow.Flow) FlowKey {
	return FlowKey{MeasurementID: f.MeasurementID, FlowID: f.FlowID, StreamID: f.StreamID}
}

// AddFlow registers a new Flow (either the active side's locally built
// Flow, or the passive side's AddFlow-decoded mirror Flow).
func (m *Manager) AddFlow(f *flow.Flow) error {
	m.mu.Lock()
	key := flowKeyOf(f)
	if _, exists := m.flows[key]; exists {
		m.mu.Unlock()
		return ErrDuplicateFlow
	}
	m.flows[key] = &flowRecord{flow: f}
	notifier := m.notifier
	m.mu.Unlock()

	notifier.FlowCreated("", "", 0, 0, flowUUID(key))
	return nil
}

// RemoveFlow unregisters and returns the Flow for key, detaching it from
// its measurement if one is live.
func (m *Manager) RemoveFlow(key FlowKey) (*flow.Flow, error) {
	m.mu.Lock()
	rec, ok := m.flows[key]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSuchFlow
	}
	delete(m.flows, key)
	for mk, meas := range m.measurements {
		if mk.MeasurementID == key.MeasurementID {
			meas.DetachFlow(measurement.FlowKey{FlowID: key.FlowID, StreamID: key.StreamID})
		}
	}
	notifier := m.notifier
	m.mu.Unlock()

	notifier.FlowDeleted(flowUUID(key))
	return rec.flow, nil
}

// Flow looks up a registered Flow by its identifier triple.
func (m *Manager) Flow(key FlowKey) (*flow.Flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.flows[key]
	if !ok {
		return nil, false
	}
	return rec.flow, true
}

// AddUnidentifiedSocket registers a freshly-accepted data connection that
// has not yet sent its IdentifyFlow message.
func (m *Manager) AddUnidentifiedSocket(conn netsock.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unidentified[conn] = &UnidentifiedSocket{Conn: conn}
}

// IdentifySocket matches an inbound IdentifyFlow message to its mirror Flow
// (§4.7.2). On match, it moves conn from unidentified to the flow, marks the
// flow's remote as known, and opens the flow's per-flow vector file. remote
// is accepted but not stored: the flow keeps no peer address.
// vectorPrefix and idf's CompressVectors flag name that file per §6.2; an
// empty vectorPrefix (or idf.NoVectors) yields a no-op sink.
func (m *Manager) IdentifySocket(idf wire.IdentifyFlow, conn netsock.Conn, remote interface{ String() string }, vectorPrefix string, active bool) (*flow.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := FlowKey{MeasurementID: idf.MeasurementID, FlowID: idf.FlowID, StreamID: idf.StreamID}
	rec, ok := m.flows[key]
	if !ok || rec.flow.RemoteKnown {
		return nil, ErrNoSuchFlow
	}

	delete(m.unidentified, conn)
	rec.flow.Lock()
	rec.flow.Conn = conn
	rec.flow.RemoteKnown = true
	rec.flow.Unlock()

	name := ""
	if !idf.NoVectors {
		ext := ".vec"
		if idf.CompressVectors {
			ext = ".vec.bz2"
		}
		name = outfile.NamePattern(vectorPrefix, active, outfile.FlowSuffix(idf.FlowID, idf.StreamID), ext)
	}
	vf, err := outfile.New(name)
	if err != nil {
		return nil, fmt.Errorf("flowmanager: opening per-flow vector file: %w", err)
	}
	rec.flow.Lock()
	rec.flow.VectorFile = vf
	rec.flow.Unlock()
	if vf.Name() != "" {
		vf.WriteLine("AbsTime RelTime SeqNumber Delay PrevPacketDelayDiff Jitter")
	}

	return rec.flow, nil
}

// StartMeasurement implements §4.7.3's startMeasurement: creates the
// Measurement, attaches every Flow whose MeasurementID matches, and starts
// their sender threads for flows whose socket is already known.
func (m *Manager) StartMeasurement(now uint64, controlSocket interface{}, measurementID uint64, vectorPattern, vectorFormat, scalarPattern, scalarFormat string) (*measurement.Measurement, error) {
	m.mu.Lock()
	mk := MeasurementKey{ControlSocket: controlSocket, MeasurementID: measurementID}
	if _, exists := m.measurements[mk]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateMeasurement
	}
	meas, err := measurement.New(now, controlSocket, measurementID, vectorPattern, vectorFormat, scalarPattern, scalarFormat)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.measurements[mk] = meas

	var toStart []*flowRecord
	for key, rec := range m.flows {
		if key.MeasurementID != measurementID {
			continue
		}
		meas.AttachFlow(rec.flow)
		rec.flow.Lock()
		rec.flow.Measurement = flow.MeasurementKey{ControlSocket: controlSocket, MeasurementID: measurementID}
		rec.flow.Unlock()
		rec.flow.Start(now)
		toStart = append(toStart, rec)
	}
	m.mu.Unlock()

	if m.cpu != nil {
		if err := m.cpu.Update(); err != nil {
			log.Printf("flowmanager: CPU sampler update at measurement start: %v", err)
		}
	}

	for _, rec := range toStart {
		m.spawnSender(rec)
	}
	return meas, nil
}

func (m *Manager) spawnSender(rec *flowRecord) {
	rec.flow.Lock()
	ready := rec.flow.Conn != nil
	rec.flow.Unlock()
	if !ready {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel
	rec.done = make(chan struct{})
	go func() {
		defer close(rec.done)
		if err := rec.flow.Run(ctx); err != nil {
			log.Printf("flowmanager: flow %d/%d sender exited: %v", rec.flow.FlowID, rec.flow.StreamID, err)
		}
	}()
}

// StopMeasurement implements §4.7.3's two-stage stopMeasurement teardown:
// stage 0 signals every matching flow's sender to stop and shuts down
// stream sockets' write side; stage 1 joins each sender thread.
func (m *Manager) StopMeasurement(controlSocket interface{}, measurementID uint64) error {
	m.mu.Lock()
	mk := MeasurementKey{ControlSocket: controlSocket, MeasurementID: measurementID}
	meas, ok := m.measurements[mk]
	if !ok {
		m.mu.Unlock()
		return ErrNoSuchMeasurement
	}

	var records []*flowRecord
	for key, rec := range m.flows {
		if key.MeasurementID != measurementID {
			continue
		}
		records = append(records, rec)
	}
	m.mu.Unlock()

	// Stage 0: signal stop.
	for _, rec := range records {
		rec.flow.Cancel()
		rec.flow.Lock()
		conn := rec.flow.Conn
		isStream := rec.flow.Spec.Protocol.IsStream()
		rec.flow.Unlock()
		if conn != nil && isStream {
			if err := conn.Shutdown(); err != nil {
				log.Printf("flowmanager: shutting down flow %d/%d: %v", rec.flow.FlowID, rec.flow.StreamID, err)
			}
		}
	}

	// Stage 1: join.
	for _, rec := range records {
		if rec.done != nil {
			<-rec.done
		}
		log.Printf("flowmanager: flow %d/%d stopped: %+v", rec.flow.FlowID, rec.flow.StreamID, rec.flow.Snapshot())
	}

	m.mu.Lock()
	delete(m.measurements, mk)
	m.mu.Unlock()

	meas.WriteScalarStatistics(m.cpu)
	return meas.Finish(false)
}

// Measurement looks up a live Measurement by its key.
func (m *Manager) Measurement(controlSocket interface{}, measurementID uint64) (*measurement.Measurement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meas, ok := m.measurements[MeasurementKey{ControlSocket: controlSocket, MeasurementID: measurementID}]
	return meas, ok
}

// FlowsForMeasurement returns every Flow currently tagged with
// measurementID, regardless of whether its Measurement has started yet
// (used by the active side's config-file dump, written before Start).
func (m *Manager) FlowsForMeasurement(measurementID uint64) []*flow.Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*flow.Flow
	for key, rec := range m.flows {
		if key.MeasurementID == measurementID {
			out = append(out, rec.flow)
		}
	}
	return out
}

// RemoveSocket purges every measurement and flow owned by controlSocket
// (§4.8.2 "control association shutdown"): files are closed without
// attempting an upload, since the socket that would carry it is already
// gone.
func (m *Manager) RemoveSocket(controlSocket interface{}) {
	m.mu.Lock()
	var deadFlows []FlowKey
	for key, rec := range m.flows {
		rec.flow.Lock()
		owner := rec.flow.Measurement.ControlSocket
		rec.flow.Unlock()
		if owner == controlSocket {
			deadFlows = append(deadFlows, key)
		}
	}
	for _, key := range deadFlows {
		delete(m.flows, key)
	}
	var dead []*measurement.Measurement
	for mk, meas := range m.measurements {
		if mk.ControlSocket == controlSocket {
			dead = append(dead, meas)
			delete(m.measurements, mk)
		}
	}
	m.mu.Unlock()

	for _, meas := range dead {
		if err := meas.Finish(true); err != nil {
			log.Printf("flowmanager: finishing measurement after socket shutdown: %v", err)
		}
	}
}

// SampleStatistics runs one §4.7.1 handleEvents pass: for every live
// measurement, purge idle flows' defragmenters and emit due vector samples.
// Scalar statistics are written once, by StopMeasurement.
func (m *Manager) SampleStatistics(now uint64) {
	m.mu.Lock()
	measurements := make([]*measurement.Measurement, 0, len(m.measurements))
	for _, meas := range m.measurements {
		measurements = append(measurements, meas)
	}
	m.mu.Unlock()

	if m.cpu != nil {
		if err := m.cpu.Update(); err != nil {
			log.Printf("flowmanager: CPU sampler update: %v", err)
		}
	}

	for _, meas := range measurements {
		for _, f := range meas.Flows() {
			f.PurgeDefrag(now)
		}
		meas.WriteVectorStatistics(now)
	}
}
