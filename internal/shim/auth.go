package shim

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/registry"
)

// authPoller is the subset of *registry.Client the login flow drives.
// Declared as an interface so tests can supply a fake without a live
// registry.
type authPoller interface {
	AuthInitiate(ctx context.Context) (*registry.AuthSession, error)
	AuthComplete(ctx context.Context, sessionID string) (*registry.AuthToken, error)
}

// LoginFlow drives the CLI device-auth handshake documented on
// internal/registry/auth.go: initiate a session, open the verification
// URL in the user's browser, then poll complete until the user finishes
// in-browser. Grounded on the teacher's cmd/orizon/main.go runCmd for
// the exec.Command wiring, and on kraklabs-cie's progress.go for the
// spinner shown while polling.
type LoginFlow struct {
	Client       authPoller
	OpenBrowser  func(url string) error
	PollInterval time.Duration
	Progress     ProgressConfig
}

// NewLoginFlow builds a LoginFlow against a live registry client.
func NewLoginFlow(client *registry.Client, progress ProgressConfig) *LoginFlow {
	return &LoginFlow{Client: client, OpenBrowser: openBrowser, PollInterval: 2 * time.Second, Progress: progress}
}

// Run executes the full initiate → open-browser → poll-complete flow
// and returns the issued token.
func (f *LoginFlow) Run(ctx context.Context) (*registry.AuthToken, error) {
	session, err := f.Client.AuthInitiate(ctx)
	if err != nil {
		return nil, err
	}

	Infof("To finish logging in, open: %s", session.VerificationURL)
	if f.OpenBrowser != nil {
		_ = f.OpenBrowser(session.VerificationURL)
	}

	interval := f.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(time.Duration(session.ExpiresIn) * time.Second)
	if session.ExpiresIn <= 0 {
		deadline = time.Now().Add(5 * time.Minute)
	}

	spinner := NewSpinner(f.Progress, "Waiting for browser confirmation")
	defer Finish(spinner)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindAuthRequired, "login canceled", ctx.Err())
		case <-ticker.C:
			Tick(spinner, 1)
			token, err := f.Client.AuthComplete(ctx, session.SessionID)
			if err == nil && token.Token != "" {
				return token, nil
			}
			if time.Now().After(deadline) {
				return nil, errs.New(errs.KindAuthRequired, "login session expired before confirmation")
			}
		}
	}
}

// openBrowser shells out to the platform's URL opener. Best-effort: a
// failure here just means the user copies the URL themselves, which
// Run already printed.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
