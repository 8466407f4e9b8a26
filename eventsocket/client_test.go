package eventsocket

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
)

type testHandler struct {
	creates, deletes int
	wg               sync.WaitGroup
}

func (t *testHandler) Created(ctx context.Context, timestamp time.Time, uuid, src, dest string, sport, dport uint16) {
	t.creates++
	t.wg.Done()
}

func (t *testHandler) Deleted(ctx context.Context, timestamp time.Time, uuid string) {
	t.deletes++
	t.wg.Done()
}

func TestClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir, err := ioutil.TempDir("", "TestEventSocketClient")
	rtx.Must(err, "Could not create tempdir")
	defer os.RemoveAll(dir)

	srv := New(dir + "/flowevents.sock").(*server)
	srv.Listen()
	srvCtx, srvCancel := context.WithCancel(context.Background())
	go srv.Serve(srvCtx)
	defer srvCancel()

	th := &testHandler{}
	clientWg := sync.WaitGroup{}
	clientWg.Add(1)
	go func() {
		MustRun(ctx, dir+"/flowevents.sock", th)
		clientWg.Done()
	}()
	th.wg.Add(2)

	srv.FlowCreated("10.0.0.1", "10.0.0.2", 9000, 9001, "fakeuuid")
	// Send a bad event and make sure nothing crashes.
	srv.eventC <- &FlowEvent{
		Kind:      FlowEventKind(1000),
		Timestamp: time.Now(),
		UUID:      "fakeuuid",
	}
	srv.FlowDeleted("fakeuuid")
	th.wg.Wait() // Wait until the handler gets both events.

	cancel()
	clientWg.Wait()
}
