package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id string

	mu        sync.Mutex
	posts     []Message
	focused   int
	navigated []string
	postErr   error
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Post(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.postErr != nil {
		return c.postErr
	}

	c.posts = append(c.posts, msg)

	return nil
}

func (c *fakeClient) Focus(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.focused++

	return nil
}

func (c *fakeClient) Navigate(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.navigated = append(c.navigated, url)

	return nil
}

func (c *fakeClient) postCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.posts)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()

	r.Register(&fakeClient{id: "tab-1"})
	r.Register(&fakeClient{id: "tab-2"})
	assert.Equal(t, 2, r.Len())

	// Registering the same ID replaces.
	r.Register(&fakeClient{id: "tab-1"})
	assert.Equal(t, 2, r.Len())

	c, ok := r.Get("tab-1")
	require.True(t, ok)
	assert.Equal(t, "tab-1", c.ID())

	r.Unregister("tab-1")
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("tab-1")
	assert.False(t, ok)
}

func TestRegistry_ListOrderedByID(t *testing.T) {
	r := NewRegistry()

	r.Register(&fakeClient{id: "tab-2"})
	r.Register(&fakeClient{id: "tab-1"})
	r.Register(&fakeClient{id: "tab-3"})

	var ids []string
	for _, c := range r.List() {
		ids = append(ids, c.ID())
	}

	assert.Equal(t, []string{"tab-1", "tab-2", "tab-3"}, ids)
}

func TestRegistry_Broadcast(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry()

	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}
	r.Register(a)
	r.Register(b)

	msg := Message{Type: "DATA_SYNCED", Payload: "fresh"}

	require.NoError(t, r.Broadcast(ctx, msg))
	assert.Equal(t, 1, a.postCount())
	assert.Equal(t, 1, b.postCount())
	assert.Equal(t, msg, a.posts[0])
}

func TestRegistry_BroadcastBestEffort(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry()

	failing := &fakeClient{id: "a", postErr: errors.New("port closed")}
	healthy := &fakeClient{id: "b"}
	r.Register(failing)
	r.Register(healthy)

	err := r.Broadcast(ctx, Message{Type: "DATA_SYNCED"})
	require.Error(t, err)

	// The healthy client still received the message.
	assert.Equal(t, 1, healthy.postCount())
}

func TestRegistry_ClaimAll(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Controller()
	assert.False(t, ok)

	require.NoError(t, r.ClaimAll(context.Background(), "v2"))

	gen, ok := r.Controller()
	require.True(t, ok)
	assert.Equal(t, "v2", string(gen))
}

func TestRegistry_OpenOrFocus(t *testing.T) {
	ctx := context.Background()

	t.Run("focuses first client by ID", func(t *testing.T) {
		r := NewRegistry()

		second := &fakeClient{id: "tab-2"}
		first := &fakeClient{id: "tab-1"}
		r.Register(second)
		r.Register(first)

		require.NoError(t, r.OpenOrFocus(ctx, "https://app.example.com/"))
		assert.Equal(t, 1, first.focused)
		assert.Equal(t, 0, second.focused)
	})

	t.Run("opens without clients", func(t *testing.T) {
		var opened []string

		r := NewRegistry(WithOpener(func(_ context.Context, url string) error {
			opened = append(opened, url)
			return nil
		}))

		require.NoError(t, r.OpenOrFocus(ctx, "https://app.example.com/"))
		assert.Equal(t, []string{"https://app.example.com/"}, opened)
	})

	t.Run("no-op without clients or opener", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.OpenOrFocus(ctx, "https://app.example.com/"))
	})
}
