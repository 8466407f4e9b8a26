//go:build !linux

package cpustatus

import "testing"

func TestFallbackSamplerReportsIdle(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.Utilization(0) != 0 {
		t.Errorf("expected 0 utilization from fallback sampler, got %v", s.Utilization(0))
	}
}
