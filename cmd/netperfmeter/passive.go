package main

import (
	"context"
	"log"

	"github.com/dreibh/netperfmeter/control"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/flowreceiver"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/netsock"
)

// dataProtocols are the transports a passive process listens for on the
// data port (§6.4): every transport except MPTCP, which is not exposed by
// §6.1's CLI selector flags and so is never negotiated by a spec-compliant
// active peer.
var dataProtocols = []msgreader.Protocol{msgreader.TCP, msgreader.UDP, msgreader.SCTP, msgreader.DCCP}

// runPassive listens for control and data connections and serves them
// until ctx is cancelled (§4.8.2, §4.7.1).
func runPassive(ctx context.Context, manager *flowmanager.Manager, port int, cfg *globalConfig) error {
	controlLn, err := netsock.Listen(controlProtocol(cfg), port+1, cfg.localAddrs, socketOptions(cfg))
	if err != nil {
		return err
	}
	go acceptControl(ctx, controlLn, manager, cfg)

	listening := 0
	for _, p := range dataProtocols {
		ln, err := netsock.Listen(p, port, cfg.localAddrs, socketOptions(cfg))
		if err != nil {
			log.Printf("passive: not listening for %v data connections: %v", p, err)
			continue
		}
		listening++
		go acceptData(ctx, ln, manager, p, cfg)
	}
	if listening == 0 {
		return controlLn.Close()
	}

	<-ctx.Done()
	controlLn.Close()
	return nil
}

func acceptControl(ctx context.Context, ln netsock.Listener, manager *flowmanager.Manager, cfg *globalConfig) {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("passive: accepting control connection: %v", err)
			continue
		}
		cc, ok := conn.(control.Conn)
		if !ok {
			log.Printf("passive: control connection type %T cannot carry the control protocol", conn)
			conn.Close()
			continue
		}
		drv := control.NewPassive(cc, manager)
		drv.VectorPattern = cfg.vectorPattern
		drv.ScalarPattern = cfg.scalarPattern
		go func() {
			if err := drv.Serve(ctx); err != nil {
				log.Printf("passive: control connection closed: %v", err)
			}
		}()
	}
}

func acceptData(ctx context.Context, ln netsock.Listener, manager *flowmanager.Manager, protocol msgreader.Protocol, cfg *globalConfig) {
	defer ln.Close()

	// UDP has no accept() semantics: netsock's udpListener.Accept hands back
	// the same connectionless socket forever, so a single flowreceiver is
	// started for it rather than looping Accept (which would otherwise
	// spawn a duplicate reader on every iteration).
	if protocol == msgreader.UDP {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("passive: accepting UDP data socket: %v", err)
			return
		}
		if err := flowreceiver.Serve(ctx, manager, conn, protocol, cfg.vectorPattern, false); err != nil {
			log.Printf("passive: UDP data socket closed: %v", err)
		}
		return
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("passive: accepting %v data connection: %v", protocol, err)
			continue
		}
		go func() {
			if err := flowreceiver.Serve(ctx, manager, conn, protocol, cfg.vectorPattern, false); err != nil {
				log.Printf("passive: %v data connection closed: %v", protocol, err)
			}
		}()
	}
}
