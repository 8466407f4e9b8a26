// Package flow implements one logical traffic stream: its static
// configuration, its sender thread, and its receive-side statistics.
package flow

import (
	"github.com/dreibh/netperfmeter/genrand"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/wire"
)

// OnOffEvent is one scheduled flip of a flow's OutputStatus.
type OnOffEvent struct {
	Generator genrand.Generator
	RelTime   bool
}

// TrafficSpec is the static configuration of one flow (§3 Data model).
type TrafficSpec struct {
	Protocol    msgreader.Protocol
	Description string

	OutboundFrameRate genrand.Generator
	OutboundFrameSize genrand.Generator
	InboundFrameRate  genrand.Generator
	InboundFrameSize  genrand.Generator

	MaxMsgSize          uint16
	DefragTimeoutMicros uint64

	OrderedMode              float64
	ReliableMode             float64
	RetransmissionTrials     uint32
	RetransmissionTrialsInMS bool

	CMT        uint8
	CCID       uint8
	NDiffPorts uint16

	PathMgr           string
	CongestionControl string

	RcvBufferSize uint32
	SndBufferSize uint32

	OnOffEvents []OnOffEvent
	RepeatOnOff bool

	Debug   bool
	NoDelay bool
}

// ToAddFlow encodes ts as the wire AddFlow message an active side sends. Per
// the wire format's single FrameRate/FrameSize pair (see wire.AddFlow), this
// carries ts.InboundFrameRate/InboundFrameSize -- what this side expects to
// receive becomes the peer's outbound generator.
func (ts TrafficSpec) ToAddFlow(flowID uint32, measurementID uint64, streamID uint16) wire.AddFlow {
	events := make([]wire.OnOffEvent, len(ts.OnOffEvents))
	for i, e := range ts.OnOffEvents {
		events[i] = wire.OnOffEvent{
			RandNumGen: uint8(e.Generator.Kind),
			RelTime:    e.RelTime,
			ValueArray: e.Generator.Params,
		}
	}
	return wire.AddFlow{
		FlowID:                   flowID,
		MeasurementID:            measurementID,
		StreamID:                 streamID,
		Protocol:                 uint8(ts.Protocol),
		Description:              ts.Description,
		OrderedMode:              ts.OrderedMode,
		ReliableMode:             ts.ReliableMode,
		RetransmissionTrials:     ts.RetransmissionTrials,
		RetransmissionTrialsInMS: ts.RetransmissionTrialsInMS,
		FrameRate:                ts.InboundFrameRate.Params,
		FrameRateRng:             uint8(ts.InboundFrameRate.Kind),
		FrameSize:                ts.InboundFrameSize.Params,
		FrameSizeRng:             uint8(ts.InboundFrameSize.Kind),
		RcvBufferSize:            ts.RcvBufferSize,
		SndBufferSize:            ts.SndBufferSize,
		MaxMsgSize:               ts.MaxMsgSize,
		CMT:                      ts.CMT,
		CCID:                     ts.CCID,
		NDiffPorts:               ts.NDiffPorts,
		PathMgr:                  ts.PathMgr,
		CongestionControl:        ts.CongestionControl,
		OnOffEvents:              events,
		Debug:                    ts.Debug,
		NoDelay:                  ts.NoDelay,
		RepeatOnOff:              ts.RepeatOnOff,
	}
}

// TrafficSpecFromAddFlow decodes af into the mirror TrafficSpec the passive
// side installs: af's FrameRate/FrameSize become this side's *outbound*
// generator (see wire.AddFlow's doc comment). The mirror's inbound
// generators are left at their zero value (Constant 0): the wire protocol
// does not convey them, since the passive side's receive direction only
// needs defragmentation/statistics, not a generator of its own.
func TrafficSpecFromAddFlow(af wire.AddFlow) TrafficSpec {
	events := make([]OnOffEvent, len(af.OnOffEvents))
	for i, e := range af.OnOffEvents {
		events[i] = OnOffEvent{
			Generator: genrand.Generator{Kind: genrand.Kind(e.RandNumGen), Params: e.ValueArray},
			RelTime:   e.RelTime,
		}
	}
	return TrafficSpec{
		Protocol:                 msgreader.Protocol(af.Protocol),
		Description:              af.Description,
		OutboundFrameRate:        genrand.Generator{Kind: genrand.Kind(af.FrameRateRng), Params: af.FrameRate},
		OutboundFrameSize:        genrand.Generator{Kind: genrand.Kind(af.FrameSizeRng), Params: af.FrameSize},
		MaxMsgSize:               af.MaxMsgSize,
		OrderedMode:              af.OrderedMode,
		ReliableMode:             af.ReliableMode,
		RetransmissionTrials:     af.RetransmissionTrials,
		RetransmissionTrialsInMS: af.RetransmissionTrialsInMS,
		CMT:                      af.CMT,
		CCID:                     af.CCID,
		NDiffPorts:               af.NDiffPorts,
		PathMgr:                  af.PathMgr,
		CongestionControl:        af.CongestionControl,
		RcvBufferSize:            af.RcvBufferSize,
		SndBufferSize:            af.SndBufferSize,
		OnOffEvents:              events,
		RepeatOnOff:              af.RepeatOnOff,
		Debug:                    af.Debug,
		NoDelay:                  af.NoDelay,
	}
}
