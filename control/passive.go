package control

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/wire"
)

// Passive dispatches control messages arriving on one accepted control
// connection (§4.8.2): AddFlow/RemoveFlow/Start/Stop handlers, plus
// association-shutdown cleanup when Serve returns.
//
// VectorPattern/ScalarPattern name this side's own output files per the
// local CLI configuration; Start's CompressVectors/
// CompressScalars/NoVectors/NoScalars flags only pick the format suffix, not
// the pattern itself (§4.8.2: "files named by local convention").
type Passive struct {
	Conn          Conn
	Manager       *flowmanager.Manager
	VectorPattern string
	ScalarPattern string
}

// NewPassive creates a Passive dispatcher over an already-accepted control
// connection.
func NewPassive(conn Conn, manager *flowmanager.Manager) *Passive {
	return &Passive{Conn: conn, Manager: manager}
}

// Serve reads and dispatches control messages until conn errors or ctx is
// cancelled, then purges every measurement/flow owned by this socket
// (§4.8.2 "control association shutdown").
func (p *Passive) Serve(ctx context.Context) error {
	defer p.Manager.RemoveSocket(p.Conn)

	for ctx.Err() == nil {
		buf, err := readMessage(p.Conn, 0)
		if err != nil {
			return err
		}
		if err := p.dispatch(buf); err != nil {
			log.Printf("control: dispatching message: %v", err)
		}
	}
	return ctx.Err()
}

func (p *Passive) dispatch(buf []byte) error {
	h, err := wire.DecodeHeader(buf)
	if err != nil {
		return err
	}
	switch h.Type {
	case wire.TypeAddFlow:
		return p.handleAddFlow(buf)
	case wire.TypeRemoveFlow:
		return p.handleRemoveFlow(buf)
	case wire.TypeStart:
		return p.handleStart(buf)
	case wire.TypeStop:
		return p.handleStop(buf)
	default:
		return fmt.Errorf("unexpected control message type %v", h.Type)
	}
}

func (p *Passive) sendAcknowledge(measurementID uint64, flowID uint32, streamID uint16, status uint32) error {
	return writeMessage(p.Conn, wire.EncodeAcknowledge(wire.Acknowledge{
		FlowID: flowID, MeasurementID: measurementID, StreamID: streamID, Status: status,
	}))
}

// handleAddFlow implements §4.8.2's AddFlow handler: reject a duplicate
// identifier triple, otherwise create the mirror Flow with the decoded
// (swapped) TrafficSpec and this socket attached.
func (p *Passive) handleAddFlow(buf []byte) error {
	af, err := wire.DecodeAddFlow(buf)
	if err != nil {
		return err
	}
	f := flow.New(af.FlowID, af.MeasurementID, af.StreamID, flow.TrafficSpecFromAddFlow(af))
	f.Lock()
	f.Measurement = flow.MeasurementKey{ControlSocket: p.Conn, MeasurementID: af.MeasurementID}
	f.Unlock()

	if err := p.Manager.AddFlow(f); err != nil {
		p.sendAcknowledge(af.MeasurementID, af.FlowID, af.StreamID, wire.StatusError)
		return fmt.Errorf("AddFlow %d/%d/%d: %w", af.MeasurementID, af.FlowID, af.StreamID, err)
	}
	return p.sendAcknowledge(af.MeasurementID, af.FlowID, af.StreamID, wire.StatusOkay)
}

// handleRemoveFlow implements §4.8.2's RemoveFlow handler: locate the flow,
// destroy it, and -- if its per-flow vector file holds any data -- stream it
// back as Results messages.
func (p *Passive) handleRemoveFlow(buf []byte) error {
	rf, err := wire.DecodeRemoveFlow(buf)
	if err != nil {
		return err
	}
	key := flowmanager.FlowKey{MeasurementID: rf.MeasurementID, FlowID: rf.FlowID, StreamID: rf.StreamID}
	f, err := p.Manager.RemoveFlow(key)
	if err != nil {
		return fmt.Errorf("RemoveFlow %d/%d/%d: %w", rf.MeasurementID, rf.FlowID, rf.StreamID, err)
	}

	f.Lock()
	vf := f.VectorFile
	f.Unlock()
	if vf == nil {
		return nil
	}
	if err := vf.Finish(false); err != nil {
		return fmt.Errorf("flushing per-flow vector file: %w", err)
	}
	if vf.Exists() {
		if err := uploadFile(p.Conn, vf.Name()); err != nil {
			return fmt.Errorf("uploading per-flow vector file: %w", err)
		}
	}
	return vf.Finish(true)
}

// handleStart implements §4.8.2's Start handler: start the measurement
// locally, named by this side's own pattern flags, filtered by the
// message's compress/suppress flags.
func (p *Passive) handleStart(buf []byte) error {
	start, err := wire.DecodeStart(buf)
	if err != nil {
		return err
	}

	vectorPattern, vectorFormat := p.VectorPattern, ".vec"
	if start.NoVectors {
		vectorPattern = ""
	} else if start.CompressVectors {
		vectorFormat = ".vec.bz2"
	}
	scalarPattern, scalarFormat := p.ScalarPattern, ".sca"
	if start.NoScalars {
		scalarPattern = ""
	} else if start.CompressScalars {
		scalarFormat = ".sca.bz2"
	}

	_, err = p.Manager.StartMeasurement(flow.Now(), p.Conn, start.MeasurementID, vectorPattern, vectorFormat, scalarPattern, scalarFormat)
	status := wire.StatusOkay
	if err != nil {
		status = wire.StatusError
	}
	return p.sendAcknowledge(start.MeasurementID, 0, 0, status)
}

// handleStop implements §4.8.2's Stop handler: stop the measurement,
// acknowledge, then upload its aggregate vector and scalar files.
func (p *Passive) handleStop(buf []byte) error {
	stop, err := wire.DecodeStop(buf)
	if err != nil {
		return err
	}

	meas, found := p.Manager.Measurement(p.Conn, stop.MeasurementID)
	status := wire.StatusOkay
	stopErr := p.Manager.StopMeasurement(p.Conn, stop.MeasurementID)
	if stopErr != nil {
		status = wire.StatusError
	}
	if err := p.sendAcknowledge(stop.MeasurementID, 0, 0, status); err != nil {
		return err
	}
	if stopErr != nil || !found {
		return stopErr
	}

	if meas.VectorFile.Exists() {
		if err := uploadFile(p.Conn, meas.VectorFile.Name()); err != nil {
			log.Printf("control: uploading aggregate vector file: %v", err)
		}
	}
	if meas.ScalarFile.Exists() {
		if err := uploadFile(p.Conn, meas.ScalarFile.Name()); err != nil {
			log.Printf("control: uploading aggregate scalar file: %v", err)
		}
	}
	return nil
}

// uploadFile streams path back to the peer as a sequence of Results
// messages, ResultsMaxDataLength bytes at a time, the last one carrying the
// EOF flag (§4.8.1/§4.8.2, §8 S6).
func uploadFile(conn Conn, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	chunk := make([]byte, wire.ResultsMaxDataLength)
	for {
		n, readErr := in.Read(chunk)
		eof := readErr != nil
		if err := writeMessage(conn, wire.EncodeResults(wire.Results{EOF: eof, Data: chunk[:n]})); err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}
