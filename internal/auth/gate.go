// Package auth holds the authentication gate consumed by the synchronizer and the bearer
// token verifiers that feed it.
package auth

import (
	"context"
	"errors"
	"sync"
)

var ErrSignedOut = errors.New("no signed-in user")

// Change is published whenever the signed-in user id changes.
type Change struct {
	Previous string
	Current  string
}

// Gate reflects the last known authentication state of one client session.
type Gate struct {
	// notifyMu orders state changes together with their delivery.
	notifyMu sync.Mutex

	mu     sync.RWMutex
	userID string
	token  string
	subs   map[int]func(Change)
	nextID int
}

func NewGate() *Gate {
	return &Gate{subs: make(map[int]func(Change))}
}

// CurrentUserID returns the signed-in user id, or "" for anonymous sessions.
func (g *Gate) CurrentUserID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID
}

// Token returns the bearer token of the signed-in user.
func (g *Gate) Token(context.Context) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.userID == "" {
		return "", ErrSignedOut
	}
	return g.token, nil
}

// SignIn records userID with its token. Subscribers are notified only when the user id
// changes; a refreshed token for the same user is silent.
func (g *Gate) SignIn(userID, token string) {
	g.set(userID, token)
}

func (g *Gate) SignOut() {
	g.set("", "")
}

// Subscribe registers fn for user id changes. fn runs on the caller of SignIn/SignOut, in
// the order the changes were applied. It must not block or call SignIn/SignOut.
func (g *Gate) Subscribe(fn func(Change)) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *Gate) set(userID, token string) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	prev := g.userID
	g.userID = userID
	g.token = token
	if prev == userID {
		g.mu.Unlock()
		return
	}
	subs := make([]func(Change), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	change := Change{Previous: prev, Current: userID}
	for _, fn := range subs {
		fn(change)
	}
}
