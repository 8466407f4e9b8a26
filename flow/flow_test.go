package flow

import (
	"math/rand"
	"testing"

	"github.com/dreibh/netperfmeter/genrand"
)

func newTestFlow(spec TrafficSpec) *Flow {
	return NewWithRand(1, 2, 3, spec, rand.New(rand.NewSource(42)))
}

func TestNewFlowStartsWaitingForStartup(t *testing.T) {
	f := newTestFlow(TrafficSpec{})
	if f.InputStatus != WaitingForStartup || f.OutputStatus != WaitingForStartup {
		t.Fatalf("new flow should start WaitingForStartup, got input=%v output=%v", f.InputStatus, f.OutputStatus)
	}
}

func TestStartWithNoOnOffEventsGoesOn(t *testing.T) {
	f := newTestFlow(TrafficSpec{})
	f.Start(1000)

	if f.InputStatus != On {
		t.Errorf("expected InputStatus On after Start, got %v", f.InputStatus)
	}
	if f.OutputStatus != On {
		t.Errorf("a flow with no on/off events should be On immediately, got %v", f.OutputStatus)
	}
	if len(f.schedule) != 0 {
		t.Errorf("expected empty schedule, got %v", f.schedule)
	}
}

func TestStartWithOnOffEventsGoesOff(t *testing.T) {
	spec := TrafficSpec{
		OnOffEvents: []OnOffEvent{
			{Generator: genrand.Generator{Kind: genrand.Constant, Params: [4]float64{500}}, RelTime: true},
		},
	}
	f := newTestFlow(spec)
	f.Start(1000)

	if f.OutputStatus != Off {
		t.Errorf("a flow with scheduled on/off events should start Off, got %v", f.OutputStatus)
	}
	if len(f.schedule) != 1 || f.schedule[0] != 1500 {
		t.Errorf("expected a single deadline at flowStart+500=1500, got %v", f.schedule)
	}
}

func TestMaterializeScheduleAbsoluteEventIgnoresFlowStart(t *testing.T) {
	events := []OnOffEvent{
		{Generator: genrand.Generator{Kind: genrand.Constant, Params: [4]float64{9000}}, RelTime: false},
	}
	rng := rand.New(rand.NewSource(1))

	deadlines := materializeSchedule(1000, events, rng)

	if len(deadlines) != 1 || deadlines[0] != 9000 {
		t.Errorf("absolute event should use its drawn value directly, got %v", deadlines)
	}
}

func TestMaterializeScheduleClampsNegativeDraws(t *testing.T) {
	events := []OnOffEvent{
		{Generator: genrand.Generator{Kind: genrand.Uniform, Params: [4]float64{-100, -50}}, RelTime: true},
	}
	rng := rand.New(rand.NewSource(1))

	deadlines := materializeSchedule(1000, events, rng)

	if deadlines[0] < 1000 {
		t.Errorf("negative draws should clamp to 0 before adding flowStart, got deadline %d < flowStart 1000", deadlines[0])
	}
}

func TestCancelStopsBeingCancelled(t *testing.T) {
	f := newTestFlow(TrafficSpec{})
	if f.isCancelled() {
		t.Fatal("new flow should not be cancelled")
	}
	f.Cancel()
	if !f.isCancelled() {
		t.Fatal("expected flow to be cancelled after Cancel()")
	}
}

func TestBandwidthStatsAddSub(t *testing.T) {
	a := BandwidthStats{TransmittedBytes: 10, ReceivedBytes: 20, LostBytes: 1}
	b := BandwidthStats{TransmittedBytes: 3, ReceivedBytes: 5, LostBytes: 1}

	sum := a.Add(b)
	if sum.TransmittedBytes != 13 || sum.ReceivedBytes != 25 || sum.LostBytes != 2 {
		t.Errorf("unexpected Add result: %+v", sum)
	}

	diff := sum.Sub(b)
	if diff != a {
		t.Errorf("Sub should invert Add: got %+v, want %+v", diff, a)
	}
}
