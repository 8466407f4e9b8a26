package control_test

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/dreibh/netperfmeter/control"
	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/wire"
)

type fakeDataConn struct{ written [][]byte }

func (c *fakeDataConn) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.written = append(c.written, cp)
	return len(b), nil
}
func (c *fakeDataConn) Shutdown() error { return nil }
func (c *fakeDataConn) Close() error    { return nil }

func newSpec() flow.TrafficSpec {
	return flow.TrafficSpec{Description: "control test", Protocol: 0}
}

// pipeServe runs a Passive dispatcher over one side of a net.Pipe until the
// pipe is closed, reporting its terminal error on errCh.
func pipeServe(p *control.Passive, errCh chan<- error) {
	errCh <- p.Serve(context.Background())
}

func TestAddFlowRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	activeManager := flowmanager.New(nil)
	passiveManager := flowmanager.New(nil)
	active := control.NewActive(clientConn, activeManager)
	passive := control.NewPassive(serverConn, passiveManager)

	f := flow.New(1, 42, 0, newSpec())
	if err := activeManager.AddFlow(f); err != nil {
		t.Fatalf("local AddFlow: %v", err)
	}

	serveErr := make(chan error, 1)
	go pipeServe(passive, serveErr)

	if err := active.AddFlow(f); err != nil {
		t.Fatalf("AddFlow round trip: %v", err)
	}

	if _, ok := passiveManager.Flow(flowmanager.FlowKey{MeasurementID: 42, FlowID: 1, StreamID: 0}); !ok {
		t.Fatal("passive side did not register the mirror flow")
	}

	clientConn.Close()
	serverConn.Close()
	<-serveErr
}

func TestAddFlowDuplicateIsRejectedWithErrorStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	activeManager := flowmanager.New(nil)
	passiveManager := flowmanager.New(nil)
	active := control.NewActive(clientConn, activeManager)
	passive := control.NewPassive(serverConn, passiveManager)

	f := flow.New(1, 42, 0, newSpec())
	activeManager.AddFlow(f)

	// Pre-populate the passive side with the same identifier triple so its
	// AddFlow handler rejects the mirror and acks with StatusError.
	mirror := flow.New(1, 42, 0, newSpec())
	if err := passiveManager.AddFlow(mirror); err != nil {
		t.Fatalf("seeding passive manager: %v", err)
	}

	serveErr := make(chan error, 1)
	go pipeServe(passive, serveErr)

	if err := active.AddFlow(f); err == nil {
		t.Fatal("expected AddFlow to report the remote's error status")
	}

	clientConn.Close()
	serverConn.Close()
	<-serveErr
}

func TestStartStopRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	activeManager := flowmanager.New(nil)
	passiveManager := flowmanager.New(nil)
	active := control.NewActive(clientConn, activeManager)
	passive := &control.Passive{Conn: serverConn, Manager: passiveManager}

	f := flow.New(1, 7, 0, newSpec())
	mirror := flow.New(1, 7, 0, newSpec())
	activeManager.AddFlow(f)
	passiveManager.AddFlow(mirror)

	serveErr := make(chan error, 1)
	go pipeServe(passive, serveErr)

	now := flow.Now()
	if err := active.Start(now, 7, "", "", "", "", "", false, false, true, true); err != nil {
		t.Fatalf("Start round trip: %v", err)
	}
	if _, ok := passiveManager.Measurement(serverConn, 7); !ok {
		t.Fatal("passive side did not start the measurement")
	}

	dir := t.TempDir()
	resultPrefix := dir + "/result"
	if err := active.Stop(7, resultPrefix); err != nil {
		t.Fatalf("Stop round trip: %v", err)
	}
	if _, ok := passiveManager.Measurement(serverConn, 7); ok {
		t.Fatal("passive side measurement should be gone after Stop")
	}
	// Start was called with no vector pattern, so Stop must not attempt to
	// download a passive vector file (original_source/src/control.cc only
	// downloads when the active side's own vector pattern is non-empty).
	if _, err := os.Stat(resultPrefix + "-passive.vec"); err == nil {
		t.Fatal("did not expect a downloaded result file when no vectors were requested")
	}

	clientConn.Close()
	serverConn.Close()
	<-serveErr
}

func TestIdentifyFlowUnreliableTransportFirstTrialSucceeds(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	activeManager := flowmanager.New(nil)
	active := control.NewActive(clientConn, activeManager)
	dataConn := &fakeDataConn{}

	spec := newSpec()
	spec.Protocol = 3 // msgreader.UDP: unreliable, retried via IdentifyFlow's own trial loop
	f := flow.New(2, 9, 0, spec)

	// IdentifyFlow writes to dataConn, not serverConn, and awaits its
	// acknowledge on the control channel; a goroutine plays the passive
	// side's control socket by handing back a single successful
	// Acknowledge, exercising the first-trial success path.
	go func() {
		ack := wire.EncodeAcknowledge(wire.Acknowledge{FlowID: 2, MeasurementID: 9, StreamID: 0, Status: wire.StatusOkay})
		serverConn.Write(ack)
	}()

	if err := active.IdentifyFlow(f, dataConn, false, false); err != nil {
		t.Fatalf("IdentifyFlow: %v", err)
	}
	if len(dataConn.written) == 0 {
		t.Fatal("expected IdentifyFlow to be written to the data connection")
	}
}
