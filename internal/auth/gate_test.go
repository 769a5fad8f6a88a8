package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AnonymousByDefault(t *testing.T) {
	g := NewGate()

	assert.Equal(t, "", g.CurrentUserID())
	_, err := g.Token(context.Background())
	assert.ErrorIs(t, err, ErrSignedOut)
}

func TestGate_NotifiesOnUserChangeOnly(t *testing.T) {
	g := NewGate()
	var changes []Change
	unsubscribe := g.Subscribe(func(c Change) { changes = append(changes, c) })

	g.SignIn("u1", "t1")
	g.SignIn("u1", "t2") // token refresh
	g.SignIn("u2", "t3")
	g.SignOut()
	g.SignOut()

	assert.Equal(t, []Change{
		{Previous: "", Current: "u1"},
		{Previous: "u1", Current: "u2"},
		{Previous: "u2", Current: ""},
	}, changes)

	unsubscribe()
	g.SignIn("u3", "t4")
	assert.Len(t, changes, 3)
}

func TestGate_TokenFollowsLatestSignIn(t *testing.T) {
	g := NewGate()
	g.SignIn("u1", "t1")
	g.SignIn("u1", "t2")

	token, err := g.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = BearerToken("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestInsecureVerifier(t *testing.T) {
	id, err := InsecureVerifier{}.Verify(context.Background(), " uid-1 ")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", id.UserID)

	_, err = InsecureVerifier{}.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGate_ConcurrentChangesDeliveredInOrder(t *testing.T) {
	g := NewGate()

	var (
		mu      sync.Mutex
		changes []Change
	)
	g.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.SignIn(fmt.Sprintf("u%d", i%3), "t")
		}()
		go func() {
			defer wg.Done()
			g.SignOut()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, "", changes[0].Previous)
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].Current, changes[i].Previous, "change %d out of order", i)
	}
	assert.Equal(t, g.CurrentUserID(), changes[len(changes)-1].Current)
}
