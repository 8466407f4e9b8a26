package genrand

import (
	"math"
	"math/rand"
	"testing"
)

func TestConstantAlwaysReturnsValue(t *testing.T) {
	g := Generator{Kind: Constant, Params: [NumParameters]float64{42}}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		if v := g.Draw(rng); v != 42 {
			t.Errorf("expected constant 42, got %v", v)
		}
	}
}

func TestUniformBounds(t *testing.T) {
	g := Generator{Kind: Uniform, Params: [NumParameters]float64{10, 20}}
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		v := g.Draw(rng)
		if v < 10 || v >= 20 {
			t.Fatalf("uniform draw %v out of [10,20)", v)
		}
	}
}

func TestExponentialMean(t *testing.T) {
	mean := 50.0
	g := Generator{Kind: Exponential, Params: [NumParameters]float64{mean}}
	rng := rand.New(rand.NewSource(3))
	sum := 0.0
	n := 200000
	for i := 0; i < n; i++ {
		sum += g.Draw(rng)
	}
	got := sum / float64(n)
	if math.Abs(got-mean) > mean*0.05 {
		t.Errorf("sample mean %v too far from expected %v", got, mean)
	}
}

func TestParetoMean(t *testing.T) {
	g := Generator{Kind: Pareto, Params: [NumParameters]float64{1, 3}}
	mean, ok := g.Mean()
	if !ok {
		t.Fatal("expected analytic mean for alpha>1")
	}
	want := 3.0 * 1.0 / (3.0 - 1.0)
	if mean != want {
		t.Errorf("got %v want %v", mean, want)
	}

	noMean := Generator{Kind: Pareto, Params: [NumParameters]float64{1, 1}}
	if _, ok := noMean.Mean(); ok {
		t.Errorf("expected no analytic mean for alpha<=1")
	}
}

func TestParetoValidation(t *testing.T) {
	bad := Generator{Kind: Pareto, Params: [NumParameters]float64{0, 1}}
	if err := bad.Validate(); err != ErrInvalidParameters {
		t.Errorf("expected ErrInvalidParameters for non-positive location, got %v", err)
	}
}

func TestTruncatedNormalNeverNegative(t *testing.T) {
	g := Generator{Kind: TruncatedNormal, Params: [NumParameters]float64{0, 10}}
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 10000; i++ {
		if v := g.Draw(rng); v < 0 {
			t.Fatalf("truncated normal produced negative value %v", v)
		}
	}
}

func TestNormalMeanConverges(t *testing.T) {
	g := Generator{Kind: Normal, Params: [NumParameters]float64{100, 15}}
	rng := rand.New(rand.NewSource(5))
	sum := 0.0
	n := 200000
	for i := 0; i < n; i++ {
		sum += g.Draw(rng)
	}
	got := sum / float64(n)
	if math.Abs(got-100) > 1 {
		t.Errorf("sample mean %v too far from 100", got)
	}
}
