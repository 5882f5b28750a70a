package pdfgate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const DefaultTokenTTL = time.Hour

type issuedToken struct {
	document string
	expires  time.Time
}

// tokenStore holds the credentials handed out by /auth. A token grants
// access to the one document it was issued for until it expires.
type tokenStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]issuedToken
}

func newTokenStore(ttl time.Duration) *tokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &tokenStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]issuedToken),
	}
}

func (s *tokenStore) issue(document string) (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.tokens[token] = issuedToken{document: document, expires: s.now().Add(s.ttl)}
	return token, nil
}

// lookup returns the document token was issued for, if it has not
// expired.
func (s *tokenStore) lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	if !s.now().Before(t.expires) {
		delete(s.tokens, token)
		return "", false
	}
	return t.document, true
}

func (s *tokenStore) sweepLocked() {
	now := s.now()
	for k, t := range s.tokens {
		if !now.Before(t.expires) {
			delete(s.tokens, k)
		}
	}
}
