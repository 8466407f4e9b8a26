package wire

import (
	"testing"

	"github.com/go-test/deep"
)

func TestScaledProbabilityRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 0.5, 0.1, 0.999999}
	for _, p := range cases {
		enc := EncodeScaledProbability(p)
		dec := DecodeScaledProbability(enc)
		if diff := dec - p; diff > 1e-8 || diff < -1e-8 {
			t.Errorf("probability %v round-tripped to %v (encoded %d)", p, dec, enc)
		}
	}
}

func TestNetworkDoubleRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.14159265358979, 1e300, -1e-300}
	for _, v := range cases {
		buf := putNetworkDouble(nil, v)
		got := getNetworkDouble(buf)
		if got != v {
			t.Errorf("network double %v round-tripped to %v", v, got)
		}
	}
}

func TestAcknowledgeRoundTrip(t *testing.T) {
	ack := Acknowledge{FlowID: 42, MeasurementID: 0xdeadbeefcafebabe, StreamID: 7, Status: StatusOkay}
	buf := EncodeAcknowledge(ack)
	got, err := DecodeAcknowledge(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(ack, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestAddFlowRoundTrip(t *testing.T) {
	af := AddFlow{
		FlowID:               1,
		MeasurementID:        123456789,
		StreamID:             2,
		Protocol:             6,
		Description:          "test-flow",
		OrderedMode:          0.75,
		ReliableMode:         1.0,
		RetransmissionTrials: 3,
		FrameRate:            [RNGInputParameters]float64{10, 0, 0, 0},
		FrameSize:            [RNGInputParameters]float64{1024, 0, 0, 0},
		FrameRateRng:         0,
		FrameSizeRng:         0,
		RcvBufferSize:        65536,
		SndBufferSize:        65536,
		MaxMsgSize:           1500,
		CMT:                  0,
		CCID:                 2,
		NDiffPorts:           0,
		PathMgr:              "fullmesh",
		CongestionControl:    "cubic",
		OnOffEvents: []OnOffEvent{
			{RandNumGen: 0, RelTime: true, ValueArray: [RNGInputParameters]float64{1000, 0, 0, 0}},
			{RandNumGen: 1, RelTime: false, ValueArray: [RNGInputParameters]float64{5, 2, 0, 0}},
		},
		Debug:       true,
		NoDelay:     true,
		RepeatOnOff: true,
	}
	buf := EncodeAddFlow(af)
	got, err := DecodeAddFlow(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(af, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestAddFlowDescriptionTruncation(t *testing.T) {
	af := AddFlow{Description: "this description is definitely longer than thirty two bytes"}
	buf := EncodeAddFlow(af)
	got, err := DecodeAddFlow(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Description) != DescriptionSize {
		t.Errorf("expected truncation to %d bytes, got %q (%d bytes)", DescriptionSize, got.Description, len(got.Description))
	}
}

func TestRetransmissionTrialsUnlimitedSentinel(t *testing.T) {
	af := AddFlow{
		RetransmissionTrials:     RetransmissionTrialsUnlimitedSentinel,
		RetransmissionTrialsInMS: true,
	}
	buf := EncodeAddFlow(af)
	got, err := DecodeAddFlow(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetransmissionTrials != ^uint32(0) {
		t.Errorf("expected unlimited sentinel to decode as all-ones, got %#x", got.RetransmissionTrials)
	}
}

func TestRemoveFlowRoundTrip(t *testing.T) {
	rf := RemoveFlow{FlowID: 5, MeasurementID: 99, StreamID: 1}
	got, err := DecodeRemoveFlow(EncodeRemoveFlow(rf))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(rf, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestIdentifyFlowRoundTrip(t *testing.T) {
	idf := IdentifyFlow{FlowID: 9, MeasurementID: 777, StreamID: 3, CompressVectors: true}
	got, err := DecodeIdentifyFlow(EncodeIdentifyFlow(idf))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(idf, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestIdentifyFlowBadMagic(t *testing.T) {
	idf := IdentifyFlow{FlowID: 1}
	buf := EncodeIdentifyFlow(idf)
	// Corrupt the magic number.
	buf[8] ^= 0xff
	if _, err := DecodeIdentifyFlow(buf); err != ErrBadType {
		t.Errorf("expected ErrBadType for corrupted magic, got %v", err)
	}
}

func TestDataRoundTrip(t *testing.T) {
	d := Data{
		FlowID:        3,
		MeasurementID: 4,
		StreamID:      0,
		FrameID:       7,
		SeqNumber:     100,
		ByteSeqNumber: 5000,
		TimeStamp:     123456789,
		FrameBegin:    true,
		FrameEnd:      false,
		Payload:       []byte("hello world"),
	}
	buf := EncodeData(d)
	got, err := DecodeData(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(d, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestDataHeaderSizeFloor(t *testing.T) {
	d := Data{}
	buf := EncodeData(d)
	if len(buf) != DataHeaderSize {
		t.Errorf("expected empty-payload Data message to be %d bytes, got %d", DataHeaderSize, len(buf))
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	s := Start{MeasurementID: 55, CompressVectors: true, NoScalars: true}
	gotS, err := DecodeStart(EncodeStart(s))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(s, gotS); diff != nil {
		t.Errorf("start round trip mismatch: %v", diff)
	}

	p := Stop{MeasurementID: 55}
	gotP, err := DecodeStop(EncodeStop(p))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(p, gotP); diff != nil {
		t.Errorf("stop round trip mismatch: %v", diff)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	r := Results{EOF: true, Data: []byte("tail chunk")}
	got, err := DecodeResults(EncodeResults(r))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(r, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestResultsMaxLength(t *testing.T) {
	data := make([]byte, ResultsMaxDataLength)
	r := Results{Data: data}
	buf := EncodeResults(r)
	if len(buf) != HeaderSize+ResultsMaxDataLength {
		t.Errorf("unexpected encoded length %d", len(buf))
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2}); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if TypeAddFlow.String() != "AddFlow" {
		t.Errorf("unexpected String(): %s", TypeAddFlow.String())
	}
}
