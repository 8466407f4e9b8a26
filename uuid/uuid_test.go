package uuid_test

import (
	"testing"

	"github.com/dreibh/netperfmeter/uuid"
)

func TestNewReturnsDistinctIDs(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := uuid.New()
		if seen[id] {
			t.Fatalf("uuid.New() returned a duplicate: %d", id)
		}
		seen[id] = true
	}
}

func TestNewIsNeverZero(t *testing.T) {
	if uuid.New() == 0 {
		t.Error("uuid.New() returned 0, which is indistinguishable from an unset MeasurementID")
	}
}
