package flow

import (
	"testing"

	"github.com/dreibh/netperfmeter/genrand"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/wire"
)

func TestToAddFlowSwapsInboundToWireFields(t *testing.T) {
	ts := TrafficSpec{
		Protocol:          msgreader.TCP,
		Description:       "test",
		InboundFrameRate:  genrand.Generator{Kind: genrand.Constant, Params: [4]float64{10}},
		InboundFrameSize:  genrand.Generator{Kind: genrand.Constant, Params: [4]float64{1000}},
		OutboundFrameRate: genrand.Generator{Kind: genrand.Constant, Params: [4]float64{20}},
		OutboundFrameSize: genrand.Generator{Kind: genrand.Constant, Params: [4]float64{2000}},
	}

	af := ts.ToAddFlow(1, 2, 3)

	if af.FrameRate[0] != 10 || af.FrameSize[0] != 1000 {
		t.Fatalf("ToAddFlow should carry the inbound generators as the wire FrameRate/FrameSize, got rate=%v size=%v", af.FrameRate, af.FrameSize)
	}
}

func TestTrafficSpecFromAddFlowSwapsWireFieldsToOutbound(t *testing.T) {
	af := wire.AddFlow{
		Protocol:  uint8(msgreader.UDP),
		FrameRate: [4]float64{10},
		FrameSize: [4]float64{1000},
	}

	ts := TrafficSpecFromAddFlow(af)

	if ts.OutboundFrameRate.Params[0] != 10 || ts.OutboundFrameSize.Params[0] != 1000 {
		t.Fatalf("TrafficSpecFromAddFlow should carry the wire FrameRate/FrameSize as outbound generators, got rate=%v size=%v",
			ts.OutboundFrameRate.Params, ts.OutboundFrameSize.Params)
	}
	if ts.InboundFrameRate.Kind != genrand.Constant || ts.InboundFrameRate.Params[0] != 0 {
		t.Errorf("mirror's inbound generator should be zero-value Constant(0), got %+v", ts.InboundFrameRate)
	}
}

func TestAddFlowRoundTripPreservesOnOffEvents(t *testing.T) {
	ts := TrafficSpec{
		Protocol: msgreader.UDP,
		OnOffEvents: []OnOffEvent{
			{Generator: genrand.Generator{Kind: genrand.Uniform, Params: [4]float64{1, 2}}, RelTime: true},
			{Generator: genrand.Generator{Kind: genrand.Constant, Params: [4]float64{500}}, RelTime: false},
		},
	}

	af := ts.ToAddFlow(1, 2, 3)
	back := TrafficSpecFromAddFlow(af)

	if len(back.OnOffEvents) != 2 {
		t.Fatalf("expected 2 on/off events round-tripped, got %d", len(back.OnOffEvents))
	}
	if back.OnOffEvents[0].RelTime != true || back.OnOffEvents[1].RelTime != false {
		t.Errorf("RelTime flags did not round-trip: %+v", back.OnOffEvents)
	}
	if back.OnOffEvents[1].Generator.Params[0] != 500 {
		t.Errorf("generator params did not round-trip: %+v", back.OnOffEvents[1].Generator)
	}
}
