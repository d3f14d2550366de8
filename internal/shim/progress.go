package shim

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// ProgressConfig decides whether progress indicators render at all, and
// where they render to. Progress is always written to stderr so it
// never corrupts stdout output a caller might be piping or parsing.
type ProgressConfig struct {
	Enabled bool
	Writer  io.Writer
	NoColor bool
}

// NewProgressConfig derives a ProgressConfig from the --quiet/--no-color
// flags and whether stderr is attached to a terminal. CI runners and
// piped output fall back to Enabled: false automatically.
func NewProgressConfig(quiet, noColor bool) ProgressConfig {
	return ProgressConfig{
		Enabled: !quiet && isatty.IsTerminal(os.Stderr.Fd()),
		Writer:  os.Stderr,
		NoColor: noColor,
	}
}

// NewBar returns a determinate progress bar for a known-size operation
// (e.g. downloading a tarball of known Content-Length). Returns nil when
// progress is disabled; callers must treat a nil *ProgressBar as a no-op
// and guard every call site, since progressbar.ProgressBar methods are
// not nil-receiver safe.
func NewBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
	)
}

// NewSpinner returns an indeterminate spinner for resolve/auth-poll
// operations whose duration isn't known up front. Returns nil when
// progress is disabled.
func NewSpinner(cfg ProgressConfig, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
	)
}

// Tick advances bar by delta, tolerating a nil bar so call sites don't
// need an Enabled check of their own.
func Tick(bar *progressbar.ProgressBar, delta int) {
	if bar == nil {
		return
	}
	_ = bar.Add(delta)
}

// Finish closes out bar, tolerating nil.
func Finish(bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}
	_ = bar.Finish()
}
