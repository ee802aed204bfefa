// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"context"
	"sync"
	"time"

	"github.com/dexspace/authregistry/internal/clock"
)

// refreshMargin is how close to expiry a cached token may get before it is
// re-fetched.
const refreshMargin = 30 * time.Second

// Token is an access token with its expiry instant.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// FetchFunc obtains a fresh token from the upstream party.
type FetchFunc func(ctx context.Context) (Token, error)

// CachedTokenSource serves one token from memory and re-fetches it when
// fewer than 30 seconds of validity remain. Two goroutines racing past the
// read check may both refresh; that is harmless. Serving an expired token
// is not, so the freshness check is repeated under the write lock.
type CachedTokenSource struct {
	fetch FetchFunc
	clk   clock.Clock

	mu  sync.RWMutex
	tok Token
}

// NewCachedTokenSource wraps fetch in a single-entry cache.
func NewCachedTokenSource(fetch FetchFunc, clk clock.Clock) *CachedTokenSource {
	return &CachedTokenSource{fetch: fetch, clk: clk}
}

// AccessToken returns the cached token, refreshing it first if it is about
// to expire.
func (s *CachedTokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.tok
	s.mu.RUnlock()

	if s.fresh(tok) {
		return tok.AccessToken, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh(s.tok) {
		return s.tok.AccessToken, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.tok = tok
	return tok.AccessToken, nil
}

func (s *CachedTokenSource) fresh(tok Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	return tok.ExpiresAt.Sub(s.clk.Now()) >= refreshMargin
}
