package pdfgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultTransitionDelay = 500 * time.Millisecond

const (
	MsgIncorrectPassword = "Incorrect password. Please try again."
	MsgAuthFailed        = "Authentication failed. Please try again."
	MsgUnreachable       = "Unable to connect to server. Please try again."
)

type GateState int

const (
	GateUnauthenticated GateState = iota
	GateAuthenticating
	GateAuthenticated
)

func (s GateState) String() string {
	switch s {
	case GateUnauthenticated:
		return "unauthenticated"
	case GateAuthenticating:
		return "authenticating"
	case GateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Authenticator performs the /auth exchange. *Client implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*AuthResponse, error)
}

// Session is what a successful authentication hands to the viewer. Token
// is empty in local mode. It is held in memory only.
type Session struct {
	Token string
	Mode  *ModeDescriptor
}

type GateConfig struct {
	// Password is checked locally before anything else. In server mode an
	// empty Password leaves the decision to the server alone.
	Password      string
	ServerMode    bool
	Authenticator Authenticator
	DocumentName  string
	Platform      Platform

	// TransitionDelay separates a successful check from the Authenticated
	// state. Zero means DefaultTransitionDelay.
	TransitionDelay time.Duration
	OnAuthenticated func(Session)
	Logger          *slog.Logger
}

// AccessGate guards the document behind a password. Authenticated is
// terminal.
type AccessGate struct {
	cfg    GateConfig
	logger *slog.Logger

	mu            sync.Mutex
	state         GateState
	input         string
	errMsg        string
	focused       bool
	session       *Session
	transition    *delayedAction
	closed        bool
	authenticated chan struct{}

	gen generation
}

func NewAccessGate(cfg GateConfig) *AccessGate {
	if cfg.TransitionDelay == 0 {
		cfg.TransitionDelay = DefaultTransitionDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessGate{
		cfg:           cfg,
		logger:        logger,
		focused:       true,
		authenticated: make(chan struct{}),
	}
}

func (g *AccessGate) SetInput(password string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.input = password
}

func (g *AccessGate) Input() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.input
}

func (g *AccessGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ErrorMessage is the user-visible message of the last failed attempt,
// empty when none.
func (g *AccessGate) ErrorMessage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errMsg
}

// Focused reports whether the password input holds focus.
func (g *AccessGate) Focused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.focused
}

// Session returns the session once the server handed out a credential
// (or once a local check passed).
func (g *AccessGate) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return Session{}, false
	}
	return *g.session, true
}

// Authenticated is closed when the gate reaches GateAuthenticated.
func (g *AccessGate) Authenticated() <-chan struct{} {
	return g.authenticated
}

// Submit checks the current input. Each call is an independent attempt;
// a failed attempt clears the input, sets the error message and keeps
// focus on the input.
func (g *AccessGate) Submit(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	switch g.state {
	case GateAuthenticated:
		g.mu.Unlock()
		return nil
	case GateAuthenticating:
		g.mu.Unlock()
		return ErrGateBusy
	}

	password := g.input
	if g.cfg.Password != "" || !g.cfg.ServerMode {
		if !passwordsMatch(password, g.cfg.Password) {
			g.fail(MsgIncorrectPassword)
			g.mu.Unlock()
			g.logger.Warn("Incorrect password submitted")
			return ErrAuthRejected
		}
	}
	g.errMsg = ""
	g.state = GateAuthenticating
	token := g.gen.current()

	if !g.cfg.ServerMode {
		g.session = &Session{}
		g.scheduleTransition(token)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	resp, err := g.authenticate(ctx, password)

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.gen.live(token) {
		return ErrGateClosed
	}
	if err != nil {
		g.state = GateUnauthenticated
		if errors.Is(err, ErrAuthRejected) {
			g.fail(MsgAuthFailed)
		} else {
			g.fail(MsgUnreachable)
		}
		g.logger.Warn("Authentication failed", "error", err)
		return err
	}

	g.session = &Session{Token: resp.Token, Mode: resp.Descriptor()}
	g.logger.Info("Authenticated", "file", g.cfg.DocumentName, "png_mode", resp.UsePngMode)
	g.scheduleTransition(token)
	return nil
}

// authenticate runs the server exchange. A missing authenticator or an
// empty answer counts as an unreachable server.
func (g *AccessGate) authenticate(ctx context.Context, password string) (*AuthResponse, error) {
	if g.cfg.Authenticator == nil {
		return nil, fmt.Errorf("%w: no authenticator configured", ErrAuthUnreachable)
	}
	resp, err := g.cfg.Authenticator.Authenticate(ctx, AuthRequest{
		Password:    password,
		IsIOS:       g.cfg.Platform.Constrained,
		PdfFilename: g.cfg.DocumentName,
	})
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response", ErrAuthUnreachable)
	}
	return resp, err
}

// fail must be called with g.mu held.
func (g *AccessGate) fail(msg string) {
	g.errMsg = msg
	g.input = ""
	g.focused = true
}

// scheduleTransition must be called with g.mu held.
func (g *AccessGate) scheduleTransition(token uint64) {
	g.transition = scheduleAction(g.cfg.TransitionDelay, func() {
		g.mu.Lock()
		if !g.gen.live(token) || g.state != GateAuthenticating {
			g.mu.Unlock()
			return
		}
		g.state = GateAuthenticated
		g.focused = false
		close(g.authenticated)
		session := *g.session
		cb := g.cfg.OnAuthenticated
		g.mu.Unlock()
		if cb != nil {
			cb(session)
		}
	})
}

// Close tears the gate down: a pending transition is cancelled and the
// result of an in-flight exchange is discarded.
func (g *AccessGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.gen.advance()
	g.transition.Cancel()
}
