package pdfgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeAuthenticator struct {
	mu       sync.Mutex
	requests []AuthRequest
	resp     *AuthResponse
	err      error
	block    chan struct{}
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.resp, f.err
}

func (f *fakeAuthenticator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func waitAuthenticated(t *testing.T, g *AccessGate) {
	t.Helper()
	select {
	case <-g.Authenticated():
	case <-time.After(5 * time.Second):
		t.Fatal("gate never authenticated")
	}
}

func TestAccessGateLocalMode(t *testing.T) {
	var logBuf syncBuffer
	var got []Session
	var mu sync.Mutex
	g := NewAccessGate(GateConfig{
		Password:        "ed",
		DocumentName:    "sample.pdf",
		TransitionDelay: 10 * time.Millisecond,
		OnAuthenticated: func(s Session) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		},
		Logger: newSyncLogger(&logBuf),
	})
	defer g.Close()

	g.SetInput("ed")
	if err := g.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if g.State() != GateAuthenticating {
		t.Errorf("state right after a correct password = %v, want authenticating", g.State())
	}
	waitAuthenticated(t, g)

	if g.State() != GateAuthenticated || g.ErrorMessage() != "" || g.Focused() {
		t.Errorf("state %v, message %q, focused %v", g.State(), g.ErrorMessage(), g.Focused())
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]Session{{}}, got); diff != "" {
		t.Errorf("OnAuthenticated sessions mismatch (-want +got):\n%s", diff)
	}
	if err := g.Submit(context.Background()); err != nil {
		t.Errorf("Submit after authentication = %v, want a no-op", err)
	}
}

func TestAccessGateIncorrectPassword(t *testing.T) {
	var logBuf syncBuffer
	auth := &fakeAuthenticator{resp: &AuthResponse{Token: "abc"}}
	for _, serverMode := range []bool{false, true} {
		g := NewAccessGate(GateConfig{
			Password:      "ed",
			ServerMode:    serverMode,
			Authenticator: auth,
			Logger:        newSyncLogger(&logBuf),
		})
		g.SetInput("Ed")
		if err := g.Submit(context.Background()); !errors.Is(err, ErrAuthRejected) {
			t.Errorf("serverMode=%v: got %v, want ErrAuthRejected", serverMode, err)
		}
		if g.State() != GateUnauthenticated {
			t.Errorf("serverMode=%v: state %v", serverMode, g.State())
		}
		if g.ErrorMessage() != MsgIncorrectPassword || g.Input() != "" || !g.Focused() {
			t.Errorf("serverMode=%v: message %q, input %q, focused %v", serverMode, g.ErrorMessage(), g.Input(), g.Focused())
		}
		if _, ok := g.Session(); ok {
			t.Errorf("serverMode=%v: a rejected password produced a session", serverMode)
		}
		g.Close()
	}
	if auth.calls() != 0 {
		t.Errorf("a locally rejected password reached the server %d times", auth.calls())
	}
	if !strings.Contains(logBuf.String(), "Incorrect password") {
		t.Errorf("expected the rejection to be logged, got:\n%s", logBuf.String())
	}
}

func TestAccessGateUnicodePassword(t *testing.T) {
	var logBuf syncBuffer
	// U+00A0 maps to a plain space under SASLprep
	g := NewAccessGate(GateConfig{Password: "open sesame", TransitionDelay: time.Millisecond, Logger: newSyncLogger(&logBuf)})
	defer g.Close()
	g.SetInput("open\u00a0sesame")
	if err := g.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitAuthenticated(t, g)
}

func TestAccessGateServerMode(t *testing.T) {
	var logBuf syncBuffer
	auth := &fakeAuthenticator{resp: &AuthResponse{Token: "abc", UsePngMode: true, PngFiles: []string{"p1.png", "p2.png", "p3.png"}}}
	g := NewAccessGate(GateConfig{
		ServerMode:      true,
		Authenticator:   auth,
		DocumentName:    "sample.pdf",
		Platform:        Platform{Constrained: true},
		TransitionDelay: 10 * time.Millisecond,
		Logger:          newSyncLogger(&logBuf),
	})
	defer g.Close()

	g.SetInput("secret")
	if err := g.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitAuthenticated(t, g)

	if auth.calls() != 1 {
		t.Fatalf("got %d /auth requests, want exactly 1", auth.calls())
	}
	want := AuthRequest{Password: "secret", IsIOS: true, PdfFilename: "sample.pdf"}
	if diff := cmp.Diff(want, auth.requests[0]); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	s, ok := g.Session()
	if !ok || s.Token != "abc" {
		t.Fatalf("session = %+v, %v", s, ok)
	}
	if diff := cmp.Diff(&ModeDescriptor{UsePngMode: true, PngFiles: []string{"p1.png", "p2.png", "p3.png"}}, s.Mode); diff != "" {
		t.Errorf("mode descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessGateServerFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"rejected", ErrAuthRejected, MsgAuthFailed},
		{"unreachable", ErrAuthUnreachable, MsgUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf syncBuffer
			auth := &fakeAuthenticator{err: tt.err}
			g := NewAccessGate(GateConfig{ServerMode: true, Authenticator: auth, Logger: newSyncLogger(&logBuf)})
			defer g.Close()

			for attempt := 1; attempt <= 2; attempt++ {
				g.SetInput("pw")
				if err := g.Submit(context.Background()); !errors.Is(err, tt.err) {
					t.Errorf("attempt %d: got %v, want %v", attempt, err, tt.err)
				}
				if auth.calls() != attempt {
					t.Errorf("attempt %d: %d requests sent", attempt, auth.calls())
				}
			}
			if g.State() != GateUnauthenticated || g.ErrorMessage() != tt.message {
				t.Errorf("state %v, message %q; want unauthenticated, %q", g.State(), g.ErrorMessage(), tt.message)
			}
			if g.Input() != "" || !g.Focused() {
				t.Errorf("input %q, focused %v; want cleared and focused", g.Input(), g.Focused())
			}
		})
	}
}

func TestAccessGateBusy(t *testing.T) {
	var logBuf syncBuffer
	auth := &fakeAuthenticator{resp: &AuthResponse{Token: "abc"}, block: make(chan struct{})}
	g := NewAccessGate(GateConfig{ServerMode: true, Authenticator: auth, TransitionDelay: time.Millisecond, Logger: newSyncLogger(&logBuf)})
	defer g.Close()

	g.SetInput("pw")
	done := make(chan error, 1)
	go func() { done <- g.Submit(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for auth.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first submission never reached the server")
		}
		time.Sleep(time.Millisecond)
	}
	if err := g.Submit(context.Background()); !errors.Is(err, ErrGateBusy) {
		t.Errorf("concurrent Submit = %v, want ErrGateBusy", err)
	}
	close(auth.block)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	waitAuthenticated(t, g)
	if auth.calls() != 1 {
		t.Errorf("%d requests sent, want 1", auth.calls())
	}
}

func TestAccessGateCloseCancelsTransition(t *testing.T) {
	var logBuf syncBuffer
	called := make(chan struct{}, 1)
	g := NewAccessGate(GateConfig{
		Password:        "ed",
		TransitionDelay: 20 * time.Millisecond,
		OnAuthenticated: func(Session) { called <- struct{}{} },
		Logger:          newSyncLogger(&logBuf),
	})
	g.SetInput("ed")
	if err := g.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	g.Close()

	select {
	case <-g.Authenticated():
		t.Error("gate authenticated after Close")
	case <-called:
		t.Error("OnAuthenticated ran after Close")
	case <-time.After(60 * time.Millisecond):
	}
	if err := g.Submit(context.Background()); !errors.Is(err, ErrGateClosed) {
		t.Errorf("Submit after Close = %v, want ErrGateClosed", err)
	}
}

func TestAccessGateCloseDiscardsInFlight(t *testing.T) {
	var logBuf syncBuffer
	auth := &fakeAuthenticator{resp: &AuthResponse{Token: "abc"}, block: make(chan struct{})}
	g := NewAccessGate(GateConfig{ServerMode: true, Authenticator: auth, TransitionDelay: time.Millisecond, Logger: newSyncLogger(&logBuf)})
	g.SetInput("pw")
	done := make(chan error, 1)
	go func() { done <- g.Submit(context.Background()) }()
	for auth.calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	g.Close()
	close(auth.block)
	if err := <-done; !errors.Is(err, ErrGateClosed) {
		t.Errorf("in-flight Submit = %v, want ErrGateClosed", err)
	}
	if _, ok := g.Session(); ok {
		t.Error("a discarded exchange produced a session")
	}
}

func TestAccessGateMissingServerAnswer(t *testing.T) {
	tests := []struct {
		name string
		auth Authenticator
	}{
		{"no authenticator", nil},
		{"empty response", &fakeAuthenticator{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf syncBuffer
			g := NewAccessGate(GateConfig{ServerMode: true, Authenticator: tt.auth, Logger: newSyncLogger(&logBuf)})
			defer g.Close()

			g.SetInput("pw")
			if err := g.Submit(context.Background()); !errors.Is(err, ErrAuthUnreachable) {
				t.Errorf("got %v, want ErrAuthUnreachable", err)
			}
			if g.State() != GateUnauthenticated || g.ErrorMessage() != MsgUnreachable {
				t.Errorf("state %v, message %q", g.State(), g.ErrorMessage())
			}
		})
	}
}
