// example-eventsocket-client is a minimal reference implementation of a
// netperfmeter flow-event-socket client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/dreibh/netperfmeter/eventsocket"
)

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

// event contains fields for a flow-created event.
type event struct {
	timestamp  time.Time
	uuid       string
	src, dest  string
	sport, dport uint16
}

// handler implements the eventsocket.Handler interface.
type handler struct {
	events chan event
}

// Created is called synchronously, and blocks, for every flow-created event.
func (h *handler) Created(ctx context.Context, timestamp time.Time, uuid, src, dest string, sport, dport uint16) {
	log.Println("created", uuid, timestamp, src, dest, sport, dport)
	h.events <- event{timestamp: timestamp, uuid: uuid, src: src, dest: dest, sport: sport, dport: dport}
}

// Deleted is called single-threaded and blocking for every flow-deleted event.
func (h *handler) Deleted(ctx context.Context, timestamp time.Time, uuid string) {
	log.Println("deleted", uuid, timestamp)
}

// ProcessCreatedEvents reads and processes events received by the Created handler.
func (h *handler) ProcessCreatedEvents(ctx context.Context) {
	for {
		select {
		case e := <-h.events:
			log.Println("processing", e)
		case <-ctx.Done():
			log.Println("shutdown")
			return
		}
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	defer mainCancel()

	if *eventsocket.Filename == "" {
		panic("-eventsocket path is required")
	}

	h := &handler{events: make(chan event)}

	// Process events received by the eventsocket handler. The goroutine will
	// block until a created event occurs.
	go h.ProcessCreatedEvents(mainCtx)

	// Begin listening on the eventsocket for new events, and dispatch them to
	// the given handler.
	go eventsocket.MustRun(mainCtx, *eventsocket.Filename, h)

	<-mainCtx.Done()
	fmt.Println("ok")
}
