package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/genrand"
	"github.com/dreibh/netperfmeter/msgreader"
)

// defaultFrameSize mirrors original_source/src/netperfmeter.cc's createFlow
// "default" branch: each transport reserves space for its own headers under
// a 1500-byte MTU.
func defaultFrameSize(protocol msgreader.Protocol) float64 {
	switch protocol {
	case msgreader.TCP, msgreader.MPTCP:
		return 1500 - 40 - 20
	case msgreader.UDP:
		return 1500 - 40 - 8
	case msgreader.DCCP:
		return 1500 - 40 - 40
	default: // SCTP
		return 1500 - 40 - 12 - 16
	}
}

// defaultFrameRate is 0 (send as fast as possible) for every transport
// except UDP, which defaults to a fixed 25 frames/s absent flow control.
func defaultFrameRate(protocol msgreader.Protocol) float64 {
	if protocol == msgreader.UDP {
		return 25
	}
	return 0
}

// pendingFlow is one flow spec parsed off the command line, before a
// FlowID has been assigned.
type pendingFlow struct {
	spec flow.TrafficSpec

	// explicitFlowID/hasExplicitFlowID carry the id= option; TrafficSpec
	// has no FlowID field of its own since the wire identifier triple is
	// assigned at flow.New time, not stored in the traffic spec.
	explicitFlowID    uint32
	hasExplicitFlowID bool

	// v6Only/scheduler apply at socket-create time (netsock.Options) and
	// to the local SCTP user scheduler respectively; neither is part of
	// the wire AddFlow message TrafficSpec mirrors.
	v6Only    bool
	scheduler string
}

// parseFlowSpec parses one comma-separated flow spec (§6.1) into a
// TrafficSpec seeded with protocol's defaults.
func parseFlowSpec(raw string, protocol msgreader.Protocol) (pendingFlow, error) {
	fields := strings.Split(raw, ",")
	if len(fields) == 0 || fields[0] == "" {
		return pendingFlow{}, fmt.Errorf("empty flow spec")
	}

	spec := flow.TrafficSpec{
		Protocol:     protocol,
		OrderedMode:  1.0,
		ReliableMode: 1.0,
	}
	pf := pendingFlow{spec: spec}

	idx := 0
	if fields[0] == "default" {
		idx = 1
		pf.spec.OutboundFrameRate = genrand.Generator{Kind: genrand.Constant, Params: [4]float64{defaultFrameRate(protocol)}}
		pf.spec.OutboundFrameSize = genrand.Generator{Kind: genrand.Constant, Params: [4]float64{defaultFrameSize(protocol)}}
		pf.spec.InboundFrameRate = genrand.Generator{Kind: genrand.Constant}
		pf.spec.InboundFrameSize = genrand.Generator{Kind: genrand.Constant}
	} else {
		var err error
		if pf.spec.OutboundFrameRate, idx, err = parseRateOrSize(fields, idx); err != nil {
			return pendingFlow{}, fmt.Errorf("outbound rate: %w", err)
		}
		if pf.spec.OutboundFrameSize, idx, err = parseRateOrSize(fields, idx); err != nil {
			return pendingFlow{}, fmt.Errorf("outbound size: %w", err)
		}
		if pf.spec.InboundFrameRate, idx, err = parseRateOrSize(fields, idx); err != nil {
			return pendingFlow{}, fmt.Errorf("inbound rate: %w", err)
		}
		if pf.spec.InboundFrameSize, idx, err = parseRateOrSize(fields, idx); err != nil {
			return pendingFlow{}, fmt.Errorf("inbound size: %w", err)
		}
	}

	for idx < len(fields) {
		if err := applyFlowOption(&pf, fields[idx]); err != nil {
			return pendingFlow{}, err
		}
		idx++
	}
	return pf, nil
}

// parseRateOrSize consumes one rate/size token starting at fields[idx],
// returning the index of the next unconsumed field. uniform/pareto tokens
// consume an extra field for their second parameter (§6.1: "uniform<x>,<y>").
func parseRateOrSize(fields []string, idx int) (genrand.Generator, int, error) {
	if idx >= len(fields) {
		return genrand.Generator{}, idx, fmt.Errorf("missing rate/size token")
	}
	f := fields[idx]
	idx++
	switch {
	case strings.HasPrefix(f, "const"):
		v, err := strconv.ParseFloat(f[len("const"):], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid const token %q: %w", f, err)
		}
		return genrand.Generator{Kind: genrand.Constant, Params: [4]float64{v}}, idx, nil
	case strings.HasPrefix(f, "exp"):
		v, err := strconv.ParseFloat(f[len("exp"):], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid exp token %q: %w", f, err)
		}
		return genrand.Generator{Kind: genrand.Exponential, Params: [4]float64{v}}, idx, nil
	case strings.HasPrefix(f, "uniform"):
		x, err := strconv.ParseFloat(f[len("uniform"):], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid uniform token %q: %w", f, err)
		}
		if idx >= len(fields) {
			return genrand.Generator{}, idx, fmt.Errorf("uniform token missing its upper bound")
		}
		y, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid uniform upper bound %q: %w", fields[idx], err)
		}
		idx++
		return genrand.Generator{Kind: genrand.Uniform, Params: [4]float64{x, y}}, idx, nil
	case strings.HasPrefix(f, "pareto"):
		m, err := strconv.ParseFloat(f[len("pareto"):], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid pareto token %q: %w", f, err)
		}
		if idx >= len(fields) {
			return genrand.Generator{}, idx, fmt.Errorf("pareto token missing its shape parameter")
		}
		k, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid pareto shape %q: %w", fields[idx], err)
		}
		idx++
		return genrand.Generator{Kind: genrand.Pareto, Params: [4]float64{m, k}}, idx, nil
	default:
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return genrand.Generator{}, idx, fmt.Errorf("invalid rate/size token %q: %w", f, err)
		}
		return genrand.Generator{Kind: genrand.Constant, Params: [4]float64{v}}, idx, nil
	}
}

// applyFlowOption applies one key[=value] flow-spec option (§6.1) to pf.
func applyFlowOption(pf *pendingFlow, opt string) error {
	key, value, hasValue := strings.Cut(opt, "=")
	switch {
	case key == "id":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid id=%q: %w", value, err)
		}
		pf.explicitFlowID, pf.hasExplicitFlowID = uint32(n), true
	case key == "maxmsgsize":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid maxmsgsize=%q: %w", value, err)
		}
		pf.spec.MaxMsgSize = uint16(n)
	case key == "defragtimeout":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid defragtimeout=%q: %w", value, err)
		}
		pf.spec.DefragTimeoutMicros = n * 1000
	case key == "ordered":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid ordered=%q: %w", value, err)
		}
		pf.spec.OrderedMode = p
	case key == "unordered":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid unordered=%q: %w", value, err)
		}
		pf.spec.OrderedMode = 1 - p
	case key == "reliable":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid reliable=%q: %w", value, err)
		}
		pf.spec.ReliableMode = p
	case key == "unreliable":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid unreliable=%q: %w", value, err)
		}
		pf.spec.ReliableMode = 1 - p
	case key == "rtx_timeout":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid rtx_timeout=%q: %w", value, err)
		}
		pf.spec.RetransmissionTrials = uint32(n)
		pf.spec.RetransmissionTrialsInMS = true
	case key == "rtx_trials":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid rtx_trials=%q: %w", value, err)
		}
		pf.spec.RetransmissionTrials = uint32(n)
		pf.spec.RetransmissionTrialsInMS = false
	case key == "rcvbuf":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid rcvbuf=%q: %w", value, err)
		}
		pf.spec.RcvBufferSize = uint32(n)
	case key == "sndbuf":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid sndbuf=%q: %w", value, err)
		}
		pf.spec.SndBufferSize = uint32(n)
	case key == "cmt":
		pf.spec.CMT = parseCMT(value)
	case key == "ccid":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid ccid=%q: %w", value, err)
		}
		pf.spec.CCID = uint8(n)
	case key == "error_on_abort":
		// Logged-only: original_source's ErrorOnAbort controls a local
		// C++-level assertion when the kernel reports an SCTP abort; this
		// port already treats every socket error identically (§7).
	case key == "v6only":
		pf.v6Only = true
	case key == "description":
		pf.spec.Description = value
	case key == "onoff":
		// Parsed by parseOnOffSpec, which also needs access to hasValue's
		// raw (unsplit-on-'=') form since its own grammar uses ':'.
		events, repeat, err := parseOnOffSpec(value)
		if err != nil {
			return fmt.Errorf("invalid onoff=%q: %w", value, err)
		}
		pf.spec.OnOffEvents = events
		pf.spec.RepeatOnOff = repeat
	case key == "nodelay":
		pf.spec.NoDelay = value == "on"
	case key == "debug":
		pf.spec.Debug = value == "on"
	case key == "ndiffports":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid ndiffports=%q: %w", value, err)
		}
		pf.spec.NDiffPorts = uint16(n)
	case key == "pathmgr":
		pf.spec.PathMgr = value
	case key == "scheduler":
		pf.scheduler = value
	case key == "cc":
		pf.spec.CongestionControl = value
	default:
		if !hasValue {
			return fmt.Errorf("unknown flow option %q", key)
		}
		return fmt.Errorf("unknown flow option %q", key)
	}
	return nil
}

// parseCMT maps a cmt= value onto the wire's small integer encoding
// (§4.1's AddFlow.CMT byte); named values fall back to their numeric SCTP
// socket-option equivalents.
func parseCMT(value string) uint8 {
	switch value {
	case "off":
		return 0
	case "cmt":
		return 1
	case "cmtrpv1":
		return 2
	case "cmtrpv2":
		return 3
	case "like-mptcp":
		return 4
	case "mptcp":
		return 5
	default:
		n, _ := strconv.ParseUint(value, 10, 8)
		return uint8(n)
	}
}

// parseOnOffSpec parses the onoff=[+|repeat]<event>:<event>:... grammar
// into a schedule of OnOffEvents. Each <event> is a rate/size-style token
// (const<x>/exp<x>/uniform<x>,<y>/pareto<m>,<k>/bare number) naming a
// relative-time deadline in milliseconds; a leading '+' or the literal
// "repeat" before the first ':' marks the schedule as relative/repeating.
func parseOnOffSpec(value string) ([]flow.OnOffEvent, bool, error) {
	repeat := false
	if strings.HasPrefix(value, "+") {
		value = value[1:]
	} else if strings.HasPrefix(value, "repeat:") {
		repeat = true
		value = strings.TrimPrefix(value, "repeat:")
	}
	if value == "" {
		return nil, repeat, nil
	}
	tokens := strings.Split(value, ":")
	events := make([]flow.OnOffEvent, 0, len(tokens))
	for _, token := range tokens {
		gen, _, err := parseRateOrSize(strings.Split(token, ","), 0)
		if err != nil {
			return nil, repeat, err
		}
		events = append(events, flow.OnOffEvent{Generator: gen, RelTime: true})
	}
	return events, repeat, nil
}
