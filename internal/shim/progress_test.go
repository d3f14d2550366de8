package shim

import "testing"

func TestNewProgressConfigDisabledWhenQuiet(t *testing.T) {
	cfg := NewProgressConfig(true, false)
	if cfg.Enabled {
		t.Fatal("expected progress disabled when quiet")
	}
	if NewBar(cfg, 100, "downloading") != nil {
		t.Fatal("expected nil bar when progress disabled")
	}
	if NewSpinner(cfg, "resolving") != nil {
		t.Fatal("expected nil spinner when progress disabled")
	}
}

func TestTickAndFinishToleratesNilBar(t *testing.T) {
	Tick(nil, 1)
	Finish(nil)
}

func TestColorHelpersDoNotPanic(t *testing.T) {
	InitColors(true)
	Success("ok")
	Warning("careful")
	Error("bad")
	Info("fyi")
	Header("Title")
	_ = Label("x")
	_ = DimText("y")
}
