package shim

import (
	"context"
	"testing"
	"time"

	"github.com/terrazul-ai/tz/internal/registry"
)

type fakeAuthPoller struct {
	completeAfter int
	calls         int
}

func (f *fakeAuthPoller) AuthInitiate(_ context.Context) (*registry.AuthSession, error) {
	return &registry.AuthSession{SessionID: "sess-1", VerificationURL: "https://example.test/auth/sess-1", ExpiresIn: 60}, nil
}

func (f *fakeAuthPoller) AuthComplete(_ context.Context, sessionID string) (*registry.AuthToken, error) {
	f.calls++
	if f.calls < f.completeAfter {
		return &registry.AuthToken{}, nil
	}
	return &registry.AuthToken{Token: "tok-123", Subject: "user@example.test"}, nil
}

func TestLoginFlowPollsUntilComplete(t *testing.T) {
	poller := &fakeAuthPoller{completeAfter: 3}
	opened := ""
	flow := &LoginFlow{
		Client:       poller,
		OpenBrowser:  func(url string) error { opened = url; return nil },
		PollInterval: time.Millisecond,
	}

	token, err := flow.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if token.Token != "tok-123" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if opened != "https://example.test/auth/sess-1" {
		t.Fatalf("expected browser opened with verification url, got %q", opened)
	}
	if poller.calls < 3 {
		t.Fatalf("expected at least 3 poll attempts, got %d", poller.calls)
	}
}

func TestLoginFlowRespectsContextCancellation(t *testing.T) {
	poller := &fakeAuthPoller{completeAfter: 1000}
	flow := &LoginFlow{
		Client:       poller,
		OpenBrowser:  func(string) error { return nil },
		PollInterval: time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := flow.Run(ctx); err == nil {
		t.Fatal("expected error on context cancellation")
	}
}
