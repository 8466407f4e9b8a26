package main

import "testing"

func TestClassifyEndpointActive(t *testing.T) {
	host, port, active, err := classifyEndpoint("example.org:9000")
	if err != nil {
		t.Fatal(err)
	}
	if !active || host != "example.org" || port != 9000 {
		t.Errorf("got host=%q port=%v active=%v", host, port, active)
	}
}

func TestClassifyEndpointPassive(t *testing.T) {
	host, port, active, err := classifyEndpoint("9000")
	if err != nil {
		t.Fatal(err)
	}
	if active || host != "" || port != 9000 {
		t.Errorf("got host=%q port=%v active=%v", host, port, active)
	}
}

func TestClassifyEndpointRejectsOutOfRangePort(t *testing.T) {
	if _, _, _, err := classifyEndpoint("80"); err == nil {
		t.Error("expected an error for a reserved port")
	}
	if _, _, _, err := classifyEndpoint("65535"); err == nil {
		t.Error("expected an error for a port at the upper bound")
	}
}

func TestParseOutputPathPlain(t *testing.T) {
	pattern, format := parseOutputPath("run", ".vec")
	if pattern != "run" || format != ".vec" {
		t.Errorf("got pattern=%q format=%q", pattern, format)
	}
}

func TestParseOutputPathCompressed(t *testing.T) {
	pattern, format := parseOutputPath("run.bz2", ".sca")
	if pattern != "run" || format != ".sca.bz2" {
		t.Errorf("got pattern=%q format=%q", pattern, format)
	}
}

func TestParseOutputPathEmptyMeansNoOutput(t *testing.T) {
	pattern, format := parseOutputPath("", ".vec")
	if pattern != "" || format != "" {
		t.Errorf("got pattern=%q format=%q, want both empty", pattern, format)
	}
}

func TestApplyGlobalFlagRecognizesEveryEitherSideFlag(t *testing.T) {
	cfg := newGlobalConfig()
	flags := []string{
		"-runtime=30", "-control-over-tcp", "-activenodename=a", "-passivenodename=p",
		"-pathmgr=ndiffports", "-scheduler=rr", "-sndbuf=65536", "-rcvbuf=65536",
		"-v6only", "-quiet", "-verbose", "-verbosity=2", "-local=10.0.0.1,10.0.0.2",
		"-eventsocket=/tmp/npm.sock",
	}
	for _, f := range flags {
		consumed, err := applyGlobalFlag(cfg, f)
		if err != nil {
			t.Fatalf("flag %q: %v", f, err)
		}
		if !consumed {
			t.Errorf("flag %q was not recognized as a global flag", f)
		}
	}
	if cfg.runtimeSeconds != 30 || !cfg.controlOverTCP || cfg.activeNodeName != "a" ||
		cfg.passiveNodeName != "p" || cfg.pathMgr != "ndiffports" || cfg.scheduler != "rr" ||
		cfg.sndBuf != 65536 || cfg.rcvBuf != 65536 || !cfg.v6Only || !cfg.quiet || !cfg.verbose ||
		cfg.verbosity != 2 || len(cfg.localAddrs) != 2 || cfg.eventSocket != "/tmp/npm.sock" {
		t.Errorf("unexpected config after parsing: %+v", cfg)
	}
}

func TestApplyGlobalFlagLeavesFlowSpecsUnconsumed(t *testing.T) {
	cfg := newGlobalConfig()
	consumed, err := applyGlobalFlag(cfg, "default,id=1")
	if err != nil {
		t.Fatal(err)
	}
	if consumed {
		t.Error("a flow spec should not be consumed as a global flag")
	}
}
