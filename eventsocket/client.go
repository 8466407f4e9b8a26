package eventsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"strings"
	"time"

	"github.com/m-lab/go/rtx"
)

var (
	// Filename names the command-line flag that holds the event socket
	// path, kept as a package variable so every binary using this client
	// shares one standard flag name.
	Filename = flag.String("eventsocket", "", "Path of the unix-domain socket flow lifecycle events are served on.")
)

// Handler is implemented by anyone interested in flow lifecycle
// notifications from a running netperfmeter process.
type Handler interface {
	Created(ctx context.Context, timestamp time.Time, uuid, src, dest string, sport, dport uint16)
	Deleted(ctx context.Context, timestamp time.Time, uuid string)
}

// MustRun dials socket and delivers events to handler until ctx is
// canceled. Any error other than the socket closing is fatal.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not connect to %q", socket)
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	s := bufio.NewScanner(c)
	for s.Scan() {
		var event FlowEvent
		rtx.Must(json.Unmarshal(s.Bytes(), &event), "Could not unmarshal event")
		switch event.Kind {
		case Created:
			handler.Created(ctx, event.Timestamp, event.UUID, event.Src, event.Dest, event.SPort, event.DPort)
		case Deleted:
			handler.Deleted(ctx, event.Timestamp, event.UUID)
		default:
			log.Println("eventsocket: unknown event kind:", event.Kind)
		}
	}

	// Scanner treats the normal "connection closed" condition produced by
	// our own ctx-triggered Close as an unexported error rather than EOF;
	// fold it back into the nil case like the documented EOF behavior.
	err = s.Err()
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}
	rtx.Must(err, "Scanning of %q died with a non-EOF error", socket)
}
