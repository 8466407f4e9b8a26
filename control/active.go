package control

import (
	"fmt"
	"os"
	"time"

	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/netsock"
	"github.com/dreibh/netperfmeter/outfile"
	"github.com/dreibh/netperfmeter/wire"
)

// identifyMaxTrials/identifyTimeout are IDENTIFY_MAX_TRIALS/IDENTIFY_TIMEOUT
// (§4.8.1, §8 S4): the retry budget for IdentifyFlow on unreliable data
// transports.
const (
	identifyMaxTrials = 10
	identifyTimeout   = 30 * time.Second
	ackTimeout        = 30 * time.Second
)

// Active drives the active-side control sequence (§4.8.1) over one control
// connection: AddFlow, IdentifyFlow, Start, Stop, and result download.
type Active struct {
	Conn            Conn
	Manager         *flowmanager.Manager
	ActiveNodeName  string
	PassiveNodeName string

	// vectorPatterns/scalarPatterns remember, per measurement, whether Start
	// requested each file, so Stop knows which passive-side files to
	// download (original_source/src/control.cc only downloads when the
	// active side's own name pattern is non-empty). vectorFormats holds the
	// matching ".vec"/".vec.bz2" suffix, so the per-flow downloads Stop
	// triggers via RemoveFlow name their local copy with the same
	// compression the aggregate file uses.
	vectorPatterns map[uint64]string
	scalarPatterns map[uint64]string
	vectorFormats  map[uint64]string
}

// NewActive creates an Active driver over an already-connected control
// channel.
func NewActive(conn Conn, manager *flowmanager.Manager) *Active {
	return &Active{
		Conn:           conn,
		Manager:        manager,
		vectorPatterns: make(map[uint64]string),
		scalarPatterns: make(map[uint64]string),
		vectorFormats:  make(map[uint64]string),
	}
}

// AwaitAcknowledge reads one Acknowledge from the control channel and
// validates that its identifier triple matches, per §4.8.1's
// awaitAcknowledge. timeout == 0 blocks indefinitely.
func (a *Active) AwaitAcknowledge(measurementID uint64, flowID uint32, streamID uint16, timeout time.Duration) error {
	buf, err := readMessage(a.Conn, timeout)
	if err != nil {
		return fmt.Errorf("control: awaiting acknowledge: %w", err)
	}
	ack, err := wire.DecodeAcknowledge(buf)
	if err != nil {
		return fmt.Errorf("control: decoding acknowledge: %w", err)
	}
	if ack.MeasurementID != measurementID || ack.FlowID != flowID || ack.StreamID != streamID {
		return fmt.Errorf("control: acknowledge for wrong flow %d/%d/%d",
			ack.MeasurementID, ack.FlowID, ack.StreamID)
	}
	if ack.Status != wire.StatusOkay {
		return fmt.Errorf("control: remote reported status %d", ack.Status)
	}
	return nil
}

// AddFlow sends an AddFlow request for f and waits for its acknowledge.
func (a *Active) AddFlow(f *flow.Flow) error {
	af := f.Spec.ToAddFlow(f.FlowID, f.MeasurementID, f.StreamID)
	if err := writeMessage(a.Conn, wire.EncodeAddFlow(af)); err != nil {
		return fmt.Errorf("control: sending AddFlow: %w", err)
	}
	return a.AwaitAcknowledge(f.MeasurementID, f.FlowID, f.StreamID, ackTimeout)
}

// IdentifyFlow sends an IdentifyFlow message on the flow's own data
// connection and waits for the matching Acknowledge on the control channel.
// Reliable transports (TCP, MPTCP, SCTP) send once; unreliable transports
// (UDP, DCCP) retry up to identifyMaxTrials times (§4.8.1, §8 S4).
func (a *Active) IdentifyFlow(f *flow.Flow, dataConn netsock.Conn, noVectors, compressVectors bool) error {
	idf := wire.IdentifyFlow{
		FlowID:          f.FlowID,
		MeasurementID:   f.MeasurementID,
		StreamID:        f.StreamID,
		NoVectors:       noVectors,
		CompressVectors: compressVectors,
	}
	buf := wire.EncodeIdentifyFlow(idf)

	trials := 1
	if !f.Spec.Protocol.IsStream() {
		trials = identifyMaxTrials
	}

	var lastErr error
	for trial := 0; trial < trials; trial++ {
		if _, err := dataConn.Write(buf); err != nil {
			return fmt.Errorf("control: sending IdentifyFlow: %w", err)
		}
		if err := a.AwaitAcknowledge(f.MeasurementID, f.FlowID, f.StreamID, identifyTimeout); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("control: IdentifyFlow failed after %d trials: %w", trials, lastErr)
}

// Start optionally writes a human-readable config file, starts the
// measurement locally, then notifies and awaits the remote side (§4.8.1).
func (a *Active) Start(now uint64, measurementID uint64, configName string,
	vectorPattern, vectorFormat, scalarPattern, scalarFormat string,
	compressVectors, compressScalars, noVectors, noScalars bool) error {

	if configName != "" {
		if err := a.WriteConfigFile(configName, measurementID); err != nil {
			return err
		}
	}
	if _, err := a.Manager.StartMeasurement(now, a.Conn, measurementID, vectorPattern, vectorFormat, scalarPattern, scalarFormat); err != nil {
		return fmt.Errorf("control: local startMeasurement: %w", err)
	}
	a.vectorPatterns[measurementID] = vectorPattern
	a.scalarPatterns[measurementID] = scalarPattern
	a.vectorFormats[measurementID] = vectorFormat

	start := wire.Start{
		MeasurementID:   measurementID,
		CompressVectors: compressVectors,
		CompressScalars: compressScalars,
		NoVectors:       noVectors,
		NoScalars:       noScalars,
	}
	if err := writeMessage(a.Conn, wire.EncodeStart(start)); err != nil {
		return fmt.Errorf("control: sending Start: %w", err)
	}
	return a.AwaitAcknowledge(measurementID, 0, 0, ackTimeout)
}

// WriteConfigFile writes a human-readable summary of every flow owned by
// measurementID (original_source/src/control.cc's config dump, supplemented
// per SPEC_FULL.md since the distilled spec dropped it).
func (a *Active) WriteConfigFile(path string, measurementID uint64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("control: creating config file %q: %w", path, err)
	}
	defer file.Close()

	fmt.Fprintf(file, "NAME_ACTIVE_NODE=%q\n", a.ActiveNodeName)
	fmt.Fprintf(file, "NAME_PASSIVE_NODE=%q\n", a.PassiveNodeName)
	for _, f := range a.Manager.FlowsForMeasurement(measurementID) {
		fmt.Fprintf(file, "FLOW=%d STREAM=%d PROTOCOL=%d DESCRIPTION=%q\n",
			f.FlowID, f.StreamID, f.Spec.Protocol, f.Spec.Description)
	}
	return nil
}

// Stop stops the measurement locally, notifies the remote side, downloads
// the aggregate vector/scalar files, then tears down each flow (RemoveFlow,
// each one streaming back its per-flow vector file in response), per
// §4.8.1.
func (a *Active) Stop(measurementID uint64, resultPrefix string) error {
	if err := a.Manager.StopMeasurement(a.Conn, measurementID); err != nil {
		return fmt.Errorf("control: local stopMeasurement: %w", err)
	}
	if err := writeMessage(a.Conn, wire.EncodeStop(wire.Stop{MeasurementID: measurementID})); err != nil {
		return fmt.Errorf("control: sending Stop: %w", err)
	}
	if err := a.AwaitAcknowledge(measurementID, 0, 0, ackTimeout); err != nil {
		return err
	}

	wantsVectors := a.vectorPatterns[measurementID] != ""
	wantsScalars := a.scalarPatterns[measurementID] != ""
	vectorFormat := a.vectorFormats[measurementID]
	delete(a.vectorPatterns, measurementID)
	delete(a.scalarPatterns, measurementID)
	delete(a.vectorFormats, measurementID)

	if wantsVectors {
		if err := a.downloadResults(resultPrefix + "-passive.vec"); err != nil {
			return err
		}
	}
	if wantsScalars {
		if err := a.downloadResults(resultPrefix + "-passive.sca"); err != nil {
			return err
		}
	}

	for _, f := range a.Manager.FlowsForMeasurement(measurementID) {
		format := ""
		if wantsVectors {
			format = vectorFormat
		}
		if err := a.RemoveFlow(f, format, resultPrefix); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFlow sends a RemoveFlow request for f and forgets it locally. The
// passive side uploads the flow's per-flow vector file in response to
// RemoveFlow rather than acknowledging it (original_source/src/control.cc's
// handleNetPerfMeterRemoveFlow sends Results, or nothing at all, never an
// Acknowledge on success), so RemoveFlow must send the request before
// consuming that stream, and must not wait for an Acknowledge that never
// comes. vectorFormat, when non-empty (the measurement requested vectors),
// names the local copy via the same §6.2 grammar the passive side already
// uses for its own files; empty means no per-flow file is expected.
func (a *Active) RemoveFlow(f *flow.Flow, vectorFormat, resultPrefix string) error {
	rf := wire.RemoveFlow{FlowID: f.FlowID, MeasurementID: f.MeasurementID, StreamID: f.StreamID}
	if err := writeMessage(a.Conn, wire.EncodeRemoveFlow(rf)); err != nil {
		return fmt.Errorf("control: sending RemoveFlow: %w", err)
	}
	if vectorFormat != "" {
		path := outfile.NamePattern(resultPrefix, false, outfile.FlowSuffix(f.FlowID, f.StreamID), vectorFormat)
		if err := a.downloadResults(path); err != nil {
			return err
		}
	}
	key := flowmanager.FlowKey{MeasurementID: f.MeasurementID, FlowID: f.FlowID, StreamID: f.StreamID}
	if _, err := a.Manager.RemoveFlow(key); err != nil {
		return fmt.Errorf("control: local RemoveFlow: %w", err)
	}
	return nil
}

// downloadResults receives a Results message stream and appends it to path
// until a message with the EOF flag arrives (§4.8.1, §8 S6).
func (a *Active) downloadResults(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("control: creating result file %q: %w", path, err)
	}
	defer out.Close()

	for {
		buf, err := readMessage(a.Conn, 0)
		if err != nil {
			return fmt.Errorf("control: receiving Results: %w", err)
		}
		res, err := wire.DecodeResults(buf)
		if err != nil {
			return fmt.Errorf("control: decoding Results: %w", err)
		}
		if _, err := out.Write(res.Data); err != nil {
			return err
		}
		if res.EOF {
			return nil
		}
	}
}
