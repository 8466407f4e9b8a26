// Package eventsocket broadcasts flow lifecycle notifications (a flow being
// registered or retired by the flow manager, §4.7) over a unix-domain
// socket, one JSON line per event, to any number of connected listeners.
// External tooling that wants to react to measurements as they happen
// (rather than poll result files after Stop) can dial the socket and
// decode a stream of FlowEvent values.
package eventsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dreibh/netperfmeter/metrics"
)

//go:generate stringer -type=FlowEventKind

// FlowEventKind is the kind of lifecycle event that occurred.
type FlowEventKind int

const (
	// Created is sent when a flow is registered with the flow manager.
	Created = FlowEventKind(iota)
	// Deleted is sent when a flow is unregistered.
	Deleted
)

// FlowEvent is the data sent down the socket in JSONL form to clients. The
// UUID, Timestamp, and Kind fields are always filled in; Src/Dest/SPort/DPort
// are best-effort and omitted when the flow's peer address isn't known (e.g.
// an unreliable-transport flow that hasn't completed IdentifyFlow yet).
type FlowEvent struct {
	Kind         FlowEventKind
	Timestamp    time.Time
	UUID         string
	Src, Dest    string `json:",omitempty"`
	SPort, DPort uint16 `json:",omitempty"`
}

// Server is the interface flowmanager.Manager notifies on every AddFlow and
// RemoveFlow. Construct one with New, or use NullServer when no one is
// listening.
type Server interface {
	Listen() error
	Serve(context.Context) error
	FlowCreated(src, dest string, sport, dport uint16, uuid string)
	FlowDeleted(uuid string)
}

type server struct {
	eventC       chan *FlowEvent
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

func (s *server) addClient(c net.Conn) {
	log.Println("eventsocket: new client", c)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("eventsocket: write to client", c, "failed:", err, "- removing it")
			// Removing grabs s.mutex, so do it after this function returns.
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		if event == nil {
			continue
		}
		b, err := json.Marshal(*event)
		if err != nil {
			log.Printf("eventsocket: could not marshal event %+v: %v", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen returns quickly. Connections will not succeed until Serve is also
// running. Call only once per Server.
func (s *server) Listen() error {
	s.servingWG.Add(1)
	var err error
	// A prior unclean shutdown can leave a stale socket file behind.
	os.Remove(s.filename)
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until ctx is canceled. Call in a goroutine after
// Listen, once per Server.
func (s *server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			if derivedCtx.Err() != nil {
				return nil
			}
			log.Printf("eventsocket: accept on %q: %v", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// FlowCreated notifies listeners that a flow was just registered with the
// flow manager. src/dest/sport/dport are empty/zero when the peer address
// isn't known yet.
func (s *server) FlowCreated(src, dest string, sport, dport uint16, uuid string) {
	s.eventC <- &FlowEvent{
		Kind:      Created,
		Timestamp: time.Now(),
		Src:       src,
		Dest:      dest,
		SPort:     sport,
		DPort:     dport,
		UUID:      uuid,
	}
	metrics.FlowEventsCounter.WithLabelValues("created").Inc()
}

// FlowDeleted notifies listeners that a flow was unregistered.
func (s *server) FlowDeleted(uuid string) {
	s.eventC <- &FlowEvent{
		Kind:      Deleted,
		Timestamp: time.Now(),
		UUID:      uuid,
	}
	metrics.FlowEventsCounter.WithLabelValues("deleted").Inc()
}

// New makes a Server that serves clients on the given unix-domain socket
// path.
func New(filename string) Server {
	return &server{
		filename: filename,
		eventC:   make(chan *FlowEvent, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

type nullServer struct{}

func (nullServer) Listen() error                                               { return nil }
func (nullServer) Serve(context.Context) error                                 { return nil }
func (nullServer) FlowCreated(src, dest string, sport, dport uint16, uuid string) {}
func (nullServer) FlowDeleted(uuid string)                                     {}

// NullServer returns a Server that does nothing, so code that may or may not
// have an event socket configured can always hold a non-nil Server.
func NullServer() Server {
	return nullServer{}
}
