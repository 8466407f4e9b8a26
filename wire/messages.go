package wire

// Acknowledge carries the outcome of an AddFlow/Start/Stop request, matched
// back to its request by the (MeasurementID, FlowID, StreamID) triple.
type Acknowledge struct {
	FlowID        uint32
	MeasurementID uint64
	StreamID      uint16
	Status        uint32
}

// EncodeAcknowledge returns the wire bytes for ack.
func EncodeAcknowledge(ack Acknowledge) []byte {
	h := Header{Type: TypeAcknowledge, Length: HeaderSize + 4 + 8 + 2 + 2 + 4}
	buf := make([]byte, 0, h.Length)
	buf = h.Encode(buf)
	buf = putUint32(buf, ack.FlowID)
	buf = putUint64(buf, ack.MeasurementID)
	buf = putUint16(buf, ack.StreamID)
	buf = putUint16(buf, 0) // padding
	buf = putUint32(buf, ack.Status)
	return buf
}

// DecodeAcknowledge parses an Acknowledge message. buf must start at the
// message's header.
func DecodeAcknowledge(buf []byte) (Acknowledge, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Acknowledge{}, err
	}
	if h.Type != TypeAcknowledge {
		return Acknowledge{}, ErrBadType
	}
	if len(buf) < HeaderSize+20 {
		return Acknowledge{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	return Acknowledge{
		FlowID:        beUint32(p[0:4]),
		MeasurementID: beUint64(p[4:12]),
		StreamID:      beUint16(p[12:14]),
		Status:        beUint32(p[16:20]),
	}, nil
}

// OnOffEvent is one scheduled flip of a flow's output status, as encoded on
// the wire: a random-variable descriptor plus a relative/absolute flag.
type OnOffEvent struct {
	RandNumGen  uint8
	RelTime     bool
	ValueArray  [RNGInputParameters]float64
}

func encodeOnOffEvent(buf []byte, e OnOffEvent) []byte {
	var flags uint8
	if e.RelTime {
		flags |= OnOffFlagRelTime
	}
	buf = append(buf, e.RandNumGen, flags)
	buf = putUint16(buf, 0) // pad
	for _, v := range e.ValueArray {
		buf = putNetworkDouble(buf, v)
	}
	return buf
}

const onOffEventSize = 1 + 1 + 2 + RNGInputParameters*8

func decodeOnOffEvent(buf []byte) OnOffEvent {
	e := OnOffEvent{
		RandNumGen: buf[0],
		RelTime:    buf[1]&OnOffFlagRelTime != 0,
	}
	for i := 0; i < RNGInputParameters; i++ {
		off := 4 + i*8
		e.ValueArray[i] = getNetworkDouble(buf[off : off+8])
	}
	return e
}

// AddFlow is the request to create one flow, carrying its TrafficSpec.
//
// FrameRate/FrameSize/FrameRateRng/FrameSizeRng describe the sender's
// *inbound* generator: the active side fills in its own InboundFrameRate /
// InboundFrameSize here, and the receiving (passive) side installs these
// values as its own *outbound* generator -- flow.TrafficSpec.ToAddFlow and
// flow.TrafficSpecFromAddFlow do the swap.
type AddFlow struct {
	FlowID                uint32
	MeasurementID         uint64
	StreamID              uint16
	Protocol              uint8
	Description           string
	OrderedMode           float64 // probability in [0,1]
	ReliableMode          float64 // probability in [0,1]
	RetransmissionTrials  uint32
	RetransmissionTrialsInMS bool
	FrameRate             [RNGInputParameters]float64
	FrameSize             [RNGInputParameters]float64
	FrameRateRng          uint8
	FrameSizeRng          uint8
	RcvBufferSize         uint32
	SndBufferSize         uint32
	MaxMsgSize            uint16
	CMT                   uint8
	CCID                  uint8
	NDiffPorts            uint16
	PathMgr               string
	CongestionControl     string
	OnOffEvents           []OnOffEvent

	Debug       bool
	NoDelay     bool
	RepeatOnOff bool
}

func addFlowWireLength(nEvents int) int {
	return HeaderSize + 4 + 8 + 2 + 1 + 1 + DescriptionSize +
		4 + 4 + 4 +
		RNGInputParameters*8 + RNGInputParameters*8 + 1 + 1 +
		4 + 4 +
		2 + 1 + 1 +
		2 + PathMgrLength + CongestionControlLen +
		2 + nEvents*onOffEventSize
}

// EncodeAddFlow returns the wire bytes for af.
func EncodeAddFlow(af AddFlow) []byte {
	length := addFlowWireLength(len(af.OnOffEvents))
	var flags uint8
	if af.Debug {
		flags |= AddFlowFlagDebug
	}
	if af.NoDelay {
		flags |= AddFlowFlagNoDelay
	}
	if af.RepeatOnOff {
		flags |= AddFlowFlagRepeatOnOff
	}
	h := Header{Type: TypeAddFlow, Flags: flags, Length: uint16(length)}

	buf := make([]byte, 0, length)
	buf = h.Encode(buf)
	buf = putUint32(buf, af.FlowID)
	buf = putUint64(buf, af.MeasurementID)
	buf = putUint16(buf, af.StreamID)
	buf = append(buf, af.Protocol, 0)
	buf = putFixedString(buf, af.Description, DescriptionSize)
	buf = putUint32(buf, EncodeScaledProbability(af.OrderedMode))
	buf = putUint32(buf, EncodeScaledProbability(af.ReliableMode))

	rtx := af.RetransmissionTrials
	if af.RetransmissionTrialsInMS {
		rtx |= RetransmissionTrialsInMS
	}
	buf = putUint32(buf, rtx)

	for _, v := range af.FrameRate {
		buf = putNetworkDouble(buf, v)
	}
	for _, v := range af.FrameSize {
		buf = putNetworkDouble(buf, v)
	}
	buf = append(buf, af.FrameRateRng, af.FrameSizeRng)
	buf = putUint32(buf, af.RcvBufferSize)
	buf = putUint32(buf, af.SndBufferSize)
	buf = putUint16(buf, af.MaxMsgSize)
	buf = append(buf, af.CMT, af.CCID)
	buf = putUint16(buf, af.NDiffPorts)
	buf = putFixedString(buf, af.PathMgr, PathMgrLength)
	buf = putFixedString(buf, af.CongestionControl, CongestionControlLen)
	buf = putUint16(buf, uint16(len(af.OnOffEvents)))
	for _, e := range af.OnOffEvents {
		buf = encodeOnOffEvent(buf, e)
	}
	return buf
}

// DecodeAddFlow parses an AddFlow message.
func DecodeAddFlow(buf []byte) (AddFlow, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return AddFlow{}, err
	}
	if h.Type != TypeAddFlow {
		return AddFlow{}, ErrBadType
	}
	fixedLen := addFlowWireLength(0)
	if len(buf) < fixedLen {
		return AddFlow{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	af := AddFlow{
		FlowID:        beUint32(p[0:4]),
		MeasurementID: beUint64(p[4:12]),
		StreamID:      beUint16(p[12:14]),
		Protocol:      p[14],
	}
	off := 16
	af.Description = getFixedString(p[off : off+DescriptionSize])
	off += DescriptionSize
	af.OrderedMode = DecodeScaledProbability(beUint32(p[off : off+4]))
	off += 4
	af.ReliableMode = DecodeScaledProbability(beUint32(p[off : off+4]))
	off += 4
	rtxRaw := beUint32(p[off : off+4])
	off += 4
	af.RetransmissionTrialsInMS = rtxRaw&RetransmissionTrialsInMS != 0
	af.RetransmissionTrials = rtxRaw &^ RetransmissionTrialsInMS
	if af.RetransmissionTrialsInMS && af.RetransmissionTrials == RetransmissionTrialsUnlimitedSentinel {
		af.RetransmissionTrials = ^uint32(0)
	}
	for i := 0; i < RNGInputParameters; i++ {
		af.FrameRate[i] = getNetworkDouble(p[off : off+8])
		off += 8
	}
	for i := 0; i < RNGInputParameters; i++ {
		af.FrameSize[i] = getNetworkDouble(p[off : off+8])
		off += 8
	}
	af.FrameRateRng = p[off]
	af.FrameSizeRng = p[off+1]
	off += 2
	af.RcvBufferSize = beUint32(p[off : off+4])
	off += 4
	af.SndBufferSize = beUint32(p[off : off+4])
	off += 4
	af.MaxMsgSize = beUint16(p[off : off+2])
	off += 2
	af.CMT = p[off]
	af.CCID = p[off+1]
	off += 2
	af.NDiffPorts = beUint16(p[off : off+2])
	off += 2
	af.PathMgr = getFixedString(p[off : off+PathMgrLength])
	off += PathMgrLength
	af.CongestionControl = getFixedString(p[off : off+CongestionControlLen])
	off += CongestionControlLen
	nEvents := int(beUint16(p[off : off+2]))
	off += 2

	need := off + nEvents*onOffEventSize
	if len(p) < need {
		return AddFlow{}, ErrShortBuffer
	}
	af.OnOffEvents = make([]OnOffEvent, nEvents)
	for i := 0; i < nEvents; i++ {
		af.OnOffEvents[i] = decodeOnOffEvent(p[off : off+onOffEventSize])
		off += onOffEventSize
	}

	af.Debug = h.Flags&AddFlowFlagDebug != 0
	af.NoDelay = h.Flags&AddFlowFlagNoDelay != 0
	af.RepeatOnOff = h.Flags&AddFlowFlagRepeatOnOff != 0
	return af, nil
}

// RemoveFlow requests destruction of one flow.
type RemoveFlow struct {
	FlowID        uint32
	MeasurementID uint64
	StreamID      uint16
}

// EncodeRemoveFlow returns the wire bytes for rf.
func EncodeRemoveFlow(rf RemoveFlow) []byte {
	h := Header{Type: TypeRemoveFlow, Length: HeaderSize + 4 + 8 + 2}
	buf := make([]byte, 0, h.Length)
	buf = h.Encode(buf)
	buf = putUint32(buf, rf.FlowID)
	buf = putUint64(buf, rf.MeasurementID)
	buf = putUint16(buf, rf.StreamID)
	return buf
}

// DecodeRemoveFlow parses a RemoveFlow message.
func DecodeRemoveFlow(buf []byte) (RemoveFlow, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return RemoveFlow{}, err
	}
	if h.Type != TypeRemoveFlow {
		return RemoveFlow{}, ErrBadType
	}
	if len(buf) < HeaderSize+14 {
		return RemoveFlow{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	return RemoveFlow{
		FlowID:        beUint32(p[0:4]),
		MeasurementID: beUint64(p[4:12]),
		StreamID:      beUint16(p[12:14]),
	}, nil
}

// IdentifyFlow is sent on a freshly-opened data connection so the passive
// side can match it to the mirror Flow it created from an earlier AddFlow.
type IdentifyFlow struct {
	FlowID           uint32
	MeasurementID    uint64
	StreamID         uint16
	CompressVectors  bool
	NoVectors        bool
}

// EncodeIdentifyFlow returns the wire bytes for idf.
func EncodeIdentifyFlow(idf IdentifyFlow) []byte {
	var flags uint8
	if idf.CompressVectors {
		flags |= IdentifyFlagCompressVectors
	}
	if idf.NoVectors {
		flags |= IdentifyFlagNoVectors
	}
	h := Header{Type: TypeIdentifyFlow, Flags: flags, Length: HeaderSize + 4 + 8 + 8 + 2}
	buf := make([]byte, 0, h.Length)
	buf = h.Encode(buf)
	buf = putUint32(buf, idf.FlowID)
	buf = putUint64(buf, IdentifyFlowMagicNumber)
	buf = putUint64(buf, idf.MeasurementID)
	buf = putUint16(buf, idf.StreamID)
	return buf
}

// DecodeIdentifyFlow parses an IdentifyFlow message. ErrBadType is also
// returned if the magic number does not match, since a mismatched magic
// indicates the buffer wasn't actually an IdentifyFlow message (e.g. stray
// application payload on an unidentified socket).
func DecodeIdentifyFlow(buf []byte) (IdentifyFlow, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return IdentifyFlow{}, err
	}
	if h.Type != TypeIdentifyFlow {
		return IdentifyFlow{}, ErrBadType
	}
	if len(buf) < HeaderSize+22 {
		return IdentifyFlow{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	magic := beUint64(p[4:12])
	if magic != IdentifyFlowMagicNumber {
		return IdentifyFlow{}, ErrBadType
	}
	return IdentifyFlow{
		FlowID:          beUint32(p[0:4]),
		MeasurementID:   beUint64(p[12:20]),
		StreamID:        beUint16(p[20:22]),
		CompressVectors: h.Flags&IdentifyFlagCompressVectors != 0,
		NoVectors:       h.Flags&IdentifyFlagNoVectors != 0,
	}, nil
}

// Data carries one packet of one frame of flow payload.
type Data struct {
	FlowID        uint32
	MeasurementID uint64
	StreamID      uint16
	FrameID       uint32
	SeqNumber     uint64
	ByteSeqNumber uint64
	TimeStamp     uint64 // microseconds since an arbitrary epoch
	FrameBegin    bool
	FrameEnd      bool
	Payload       []byte
}

const dataHeaderFieldsSize = 4 + 8 + 2 + 2 + 4 + 8 + 8 + 8

// DataHeaderSize is the size in bytes of a Data message with no payload;
// senders must never emit a chunk smaller than this.
const DataHeaderSize = HeaderSize + dataHeaderFieldsSize

// EncodeData returns the wire bytes for d, including its payload.
func EncodeData(d Data) []byte {
	var flags uint8
	if d.FrameBegin {
		flags |= DataFlagFrameBegin
	}
	if d.FrameEnd {
		flags |= DataFlagFrameEnd
	}
	length := DataHeaderSize + len(d.Payload)
	h := Header{Type: TypeData, Flags: flags, Length: uint16(length)}
	buf := make([]byte, 0, length)
	buf = h.Encode(buf)
	buf = putUint32(buf, d.FlowID)
	buf = putUint64(buf, d.MeasurementID)
	buf = putUint16(buf, d.StreamID)
	buf = putUint16(buf, 0) // pad
	buf = putUint32(buf, d.FrameID)
	buf = putUint64(buf, d.SeqNumber)
	buf = putUint64(buf, d.ByteSeqNumber)
	buf = putUint64(buf, d.TimeStamp)
	buf = append(buf, d.Payload...)
	return buf
}

// DecodeData parses a Data message; the returned Payload aliases buf.
func DecodeData(buf []byte) (Data, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Data{}, err
	}
	if h.Type != TypeData {
		return Data{}, ErrBadType
	}
	if len(buf) < DataHeaderSize {
		return Data{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	d := Data{
		FlowID:        beUint32(p[0:4]),
		MeasurementID: beUint64(p[4:12]),
		StreamID:      beUint16(p[12:14]),
		FrameID:       beUint32(p[16:20]),
		SeqNumber:     beUint64(p[20:28]),
		ByteSeqNumber: beUint64(p[28:36]),
		TimeStamp:     beUint64(p[36:44]),
		FrameBegin:    h.Flags&DataFlagFrameBegin != 0,
		FrameEnd:      h.Flags&DataFlagFrameEnd != 0,
	}
	if int(h.Length) > len(buf) {
		return Data{}, ErrLengthMismatch
	}
	d.Payload = buf[DataHeaderSize:h.Length]
	return d, nil
}

// Start switches a measurement's flows into active traffic generation.
type Start struct {
	MeasurementID    uint64
	CompressVectors  bool
	CompressScalars  bool
	NoVectors        bool
	NoScalars        bool
}

// EncodeStart returns the wire bytes for s.
func EncodeStart(s Start) []byte {
	var flags uint8
	if s.CompressVectors {
		flags |= StartFlagCompressVectors
	}
	if s.CompressScalars {
		flags |= StartFlagCompressScalars
	}
	if s.NoVectors {
		flags |= StartFlagNoVectors
	}
	if s.NoScalars {
		flags |= StartFlagNoScalars
	}
	h := Header{Type: TypeStart, Flags: flags, Length: HeaderSize + 4 + 8}
	buf := make([]byte, 0, h.Length)
	buf = h.Encode(buf)
	buf = putUint32(buf, 0) // pad
	buf = putUint64(buf, s.MeasurementID)
	return buf
}

// DecodeStart parses a Start message.
func DecodeStart(buf []byte) (Start, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Start{}, err
	}
	if h.Type != TypeStart {
		return Start{}, ErrBadType
	}
	if len(buf) < HeaderSize+12 {
		return Start{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	return Start{
		MeasurementID:   beUint64(p[4:12]),
		CompressVectors: h.Flags&StartFlagCompressVectors != 0,
		CompressScalars: h.Flags&StartFlagCompressScalars != 0,
		NoVectors:       h.Flags&StartFlagNoVectors != 0,
		NoScalars:       h.Flags&StartFlagNoScalars != 0,
	}, nil
}

// Stop finalizes a measurement.
type Stop struct {
	MeasurementID uint64
}

// EncodeStop returns the wire bytes for s.
func EncodeStop(s Stop) []byte {
	h := Header{Type: TypeStop, Length: HeaderSize + 4 + 8}
	buf := make([]byte, 0, h.Length)
	buf = h.Encode(buf)
	buf = putUint32(buf, 0) // pad
	buf = putUint64(buf, s.MeasurementID)
	return buf
}

// DecodeStop parses a Stop message.
func DecodeStop(buf []byte) (Stop, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Stop{}, err
	}
	if h.Type != TypeStop {
		return Stop{}, ErrBadType
	}
	if len(buf) < HeaderSize+12 {
		return Stop{}, ErrShortBuffer
	}
	p := buf[HeaderSize:]
	return Stop{MeasurementID: beUint64(p[4:12])}, nil
}

// Results carries one chunk of a file being streamed back from the passive
// side to the active side.
type Results struct {
	EOF  bool
	Data []byte
}

// EncodeResults returns the wire bytes for r. len(r.Data) must not exceed
// ResultsMaxDataLength.
func EncodeResults(r Results) []byte {
	var flags uint8
	if r.EOF {
		flags |= ResultsFlagEOF
	}
	length := HeaderSize + len(r.Data)
	h := Header{Type: TypeResults, Flags: flags, Length: uint16(length)}
	buf := make([]byte, 0, length)
	buf = h.Encode(buf)
	buf = append(buf, r.Data...)
	return buf
}

// DecodeResults parses a Results message; Data aliases buf.
func DecodeResults(buf []byte) (Results, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Results{}, err
	}
	if h.Type != TypeResults {
		return Results{}, ErrBadType
	}
	if int(h.Length) > len(buf) {
		return Results{}, ErrLengthMismatch
	}
	return Results{
		EOF:  h.Flags&ResultsFlagEOF != 0,
		Data: buf[HeaderSize:h.Length],
	}, nil
}
