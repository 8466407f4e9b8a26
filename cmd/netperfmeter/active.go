package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dreibh/netperfmeter/control"
	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/flowreceiver"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/netsock"
)

// runActive drives one complete active-side measurement (§4.8.1): dial the
// control channel, add and identify every flow spec's data connection,
// Start, run for the configured runtime (or until interrupted), then Stop.
func runActive(ctx context.Context, manager *flowmanager.Manager, host string, port int, cfg *globalConfig, flows []pendingFlow, measurementID uint64) error {
	controlAddr := net.JoinHostPort(host, strconv.Itoa(port+1))
	rawControlConn, err := netsock.Dial(controlProtocol(cfg), controlAddr, socketOptions(cfg))
	if err != nil {
		return fmt.Errorf("active: dialing control channel %s: %w", controlAddr, err)
	}
	controlConn, ok := rawControlConn.(control.Conn)
	if !ok {
		return fmt.Errorf("active: control connection type %T cannot carry the control protocol", rawControlConn)
	}

	drv := control.NewActive(controlConn, manager)
	drv.ActiveNodeName = cfg.activeNodeName
	drv.PassiveNodeName = cfg.passiveNodeName

	now := flow.Now()
	assigned, err := addAndIdentifyFlows(ctx, manager, drv, host, port, measurementID, flows, cfg)
	if err != nil {
		return err
	}
	log.Printf("active: %d flow(s) identified, starting measurement %d", len(assigned), measurementID)

	noVectors := cfg.vectorPattern == ""
	noScalars := cfg.scalarPattern == ""
	if err := drv.Start(now, measurementID, cfg.configPath,
		cfg.vectorPattern, cfg.vectorFormat, cfg.scalarPattern, cfg.scalarFormat,
		false, false, noVectors, noScalars); err != nil {
		return fmt.Errorf("active: Start: %w", err)
	}

	waitForStop(ctx, cfg.runtimeSeconds)

	// resultPrefix names the local copies of the passive side's files this
	// side downloads at Stop; it shares the vector pattern's basename since
	// original_source/src/control.cc's own config dump does the same.
	if err := drv.Stop(measurementID, cfg.vectorPattern); err != nil {
		return fmt.Errorf("active: Stop: %w", err)
	}
	log.Printf("active: measurement %d complete", measurementID)
	return nil
}

// addAndIdentifyFlows assigns a FlowID to every parsed flow spec (honoring
// id= overrides), registers it locally, sends its AddFlow, dials its data
// connection, sends IdentifyFlow, and starts a flowreceiver goroutine for
// the connection's inbound Data messages.
func addAndIdentifyFlows(ctx context.Context, manager *flowmanager.Manager, drv *control.Active, host string, port int, measurementID uint64, flows []pendingFlow, cfg *globalConfig) ([]*flow.Flow, error) {
	used := map[uint32]bool{}
	var nextID uint32
	var assigned []*flow.Flow

	noVectors := cfg.vectorPattern == ""
	compressVectors := strings.HasSuffix(cfg.vectorFormat, ".bz2")

	for i, pf := range flows {
		id := nextID
		if pf.hasExplicitFlowID {
			id = pf.explicitFlowID
		}
		if used[id] {
			return nil, fmt.Errorf("active: flow ID %d used twice (flow spec #%d)", id, i)
		}
		used[id] = true
		if id >= nextID {
			nextID = id + 1
		}

		if pf.spec.Description == "" {
			pf.spec.Description = fmt.Sprintf("Flow %d", id)
		}

		f := flow.New(id, measurementID, 0, pf.spec)
		if err := manager.AddFlow(f); err != nil {
			return nil, fmt.Errorf("active: registering flow %d: %w", id, err)
		}
		if err := drv.AddFlow(f); err != nil {
			return nil, fmt.Errorf("active: AddFlow for flow %d: %w", id, err)
		}

		dataPort := port
		if pf.spec.Protocol == msgreader.MPTCP {
			dataPort = port - 1
		}
		dataAddr := net.JoinHostPort(host, strconv.Itoa(dataPort))
		dataConn, err := netsock.Dial(pf.spec.Protocol, dataAddr, netsock.Options{
			RcvBufferSize:     pf.spec.RcvBufferSize,
			SndBufferSize:     pf.spec.SndBufferSize,
			CMT:               pf.spec.CMT,
			CCID:              pf.spec.CCID,
			NDiffPorts:        pf.spec.NDiffPorts,
			PathMgr:           pf.spec.PathMgr,
			CongestionControl: pf.spec.CongestionControl,
			V6Only:            pf.v6Only,
		})
		if err != nil {
			return nil, fmt.Errorf("active: dialing data connection for flow %d: %w", id, err)
		}

		f.Lock()
		f.Conn = dataConn
		f.Unlock()

		if err := drv.IdentifyFlow(f, dataConn, noVectors, compressVectors); err != nil {
			return nil, fmt.Errorf("active: IdentifyFlow for flow %d: %w", id, err)
		}

		go func(conn netsock.Conn, protocol msgreader.Protocol) {
			if err := flowreceiver.Serve(ctx, manager, conn, protocol, "", true); err != nil {
				log.Printf("active: data connection closed: %v", err)
			}
		}(dataConn, pf.spec.Protocol)

		assigned = append(assigned, f)
	}
	return assigned, nil
}

// waitForStop blocks until ctx is cancelled (SIGINT) or, when runtimeSeconds
// is positive, until that many seconds have elapsed.
func waitForStop(ctx context.Context, runtimeSeconds int) {
	if runtimeSeconds <= 0 {
		<-ctx.Done()
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(runtimeSeconds) * time.Second):
	}
}
