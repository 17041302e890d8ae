package relayws

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/relaykit/relay/relay-ws/channeldao"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type fakeConnections struct {
	mu    sync.Mutex
	conns map[string]connectiondao.Connection
	err   error
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{conns: map[string]connectiondao.Connection{}}
}

func (s *fakeConnections) Put(_ context.Context, conn connectiondao.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.conns[conn.ConnectionID] = conn
	return nil
}

func (s *fakeConnections) Delete(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.conns, connectionID)
	return nil
}

func (s *fakeConnections) QueryByUser(_ context.Context, userID string) ([]connectiondao.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []connectiondao.Connection
	for _, conn := range s.conns {
		if conn.UserID == userID {
			out = append(out, conn)
		}
	}
	return out, nil
}

type fakeMembers struct {
	mu      sync.Mutex
	members map[string]memberdao.Membership
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{members: map[string]memberdao.Membership{}}
}

func memberKey(channelID, connectionID string) string {
	return channelID + "#" + connectionID
}

func (s *fakeMembers) Put(_ context.Context, m memberdao.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey(m.ChannelID, m.ConnectionID)] = m
	return nil
}

func (s *fakeMembers) Delete(_ context.Context, channelID, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberKey(channelID, connectionID))
	return nil
}

func (s *fakeMembers) QueryByChannel(_ context.Context, channelID string) ([]memberdao.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memberdao.Membership
	for _, m := range s.members {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeRegistry struct {
	mu       sync.Mutex
	channels map[string]channeldao.Channel
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{channels: map[string]channeldao.Channel{}}
}

func (s *fakeRegistry) Put(_ context.Context, ch channeldao.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ChannelID] = ch
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent: map[string][]string{},
		fail: map[string]error{},
	}
}

func (t *fakeTransport) Deliver(_ context.Context, to Delivery, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.fail[to.ConnectionID]; ok {
		return err
	}
	t.sent[to.ConnectionID] = append(t.sent[to.ConnectionID], string(data))
	return nil
}

func (t *fakeTransport) received(connectionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.sent[connectionID]...)
}

func (t *fakeTransport) totalDelivered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, msgs := range t.sent {
		n += len(msgs)
	}
	return n
}

func newTestRouter() (*Router, *fakeConnections, *fakeMembers, *fakeRegistry, *fakeTransport) {
	conns := newFakeConnections()
	members := newFakeMembers()
	registry := newFakeRegistry()
	transport := newFakeTransport()
	router := &Router{
		Connections: conns,
		Channels:    members,
		Registry:    registry,
		Transport:   transport,
		Logger:      zerolog.Nop(),
	}
	return router, conns, members, registry, transport
}

func TestRouteToUser(t *testing.T) {
	ctx := context.Background()
	sender := Delivery{ConnectionID: "s1", Endpoint: "https://example/test"}

	t.Run("delivers to every connection of the user", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()
		assert.NoError(t, router.Connect(ctx, "c1", "alice", "https://example/test"))
		assert.NoError(t, router.Connect(ctx, "c2", "alice", "https://example/test"))

		err := router.RouteToUser(ctx, "alice", []byte("hi"), sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"hi"}, transport.received("c1"))
		assert.Equal(t, []string{"hi"}, transport.received("c2"))
		assert.Empty(t, transport.received("s1"))
	})

	t.Run("no connections yields one diagnostic to the sender only", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()

		err := router.RouteToUser(ctx, "nobody", []byte("hi"), sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"No connection found for user nobody"}, transport.received("s1"))
		assert.Equal(t, 1, transport.totalDelivered())
	})

	t.Run("missing recipient yields diagnostic", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()

		err := router.RouteToUser(ctx, "", []byte("hi"), sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"Cannot resolve message recipient"}, transport.received("s1"))
	})

	t.Run("one failing delivery does not block the others", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()
		assert.NoError(t, router.Connect(ctx, "c1", "alice", "https://example/test"))
		assert.NoError(t, router.Connect(ctx, "c2", "alice", "https://example/test"))
		assert.NoError(t, router.Connect(ctx, "c3", "alice", "https://example/test"))
		transport.fail["c2"] = fmt.Errorf("timeout")

		err := router.RouteToUser(ctx, "alice", []byte("hi"), sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"hi"}, transport.received("c1"))
		assert.Equal(t, []string{"hi"}, transport.received("c3"))
	})

	t.Run("gone connection is not pruned during direct routing", func(t *testing.T) {
		router, conns, _, _, transport := newTestRouter()
		assert.NoError(t, router.Connect(ctx, "c1", "alice", "https://example/test"))
		transport.fail["c1"] = fmt.Errorf("connection c1: %w", ErrGone)

		err := router.RouteToUser(ctx, "alice", []byte("hi"), sender)
		assert.NoError(t, err)

		// direct-routing staleness heals only via explicit disconnect
		conns.mu.Lock()
		_, ok := conns.conns["c1"]
		conns.mu.Unlock()
		assert.True(t, ok)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		router, conns, _, _, _ := newTestRouter()
		conns.err = fmt.Errorf("dynamo unavailable")

		err := router.RouteToUser(ctx, "alice", []byte("hi"), sender)
		assert.Error(t, err)
	})
}

func TestRouteToChannel(t *testing.T) {
	ctx := context.Background()

	join := func(t *testing.T, router *Router, channelID, userID, connectionID string) {
		t.Helper()
		conn := Delivery{ConnectionID: connectionID, Endpoint: "https://example/test"}
		assert.NoError(t, router.JoinChannel(ctx, channelID, userID, conn))
	}

	t.Run("excludes all of the sender's connections", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()
		join(t, router, "room1", "sender", "m1")
		join(t, router, "room1", "sender", "m2")
		join(t, router, "room1", "a", "c3")
		join(t, router, "room1", "b", "c4")

		sender := Delivery{ConnectionID: "m1", Endpoint: "https://example/test"}
		err := router.RouteToChannel(ctx, "room1", []byte("hi"), "sender", sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"hi"}, transport.received("c3"))
		assert.Equal(t, []string{"hi"}, transport.received("c4"))
		assert.Empty(t, transport.received("m1"))
		assert.Empty(t, transport.received("m2"))
	})

	t.Run("gone member is pruned and the fan-out continues", func(t *testing.T) {
		router, _, members, _, transport := newTestRouter()
		join(t, router, "room1", "a", "c1")
		join(t, router, "room1", "b", "c2")
		join(t, router, "room1", "m", "c3")
		transport.fail["c3"] = fmt.Errorf("connection c3: %w", ErrGone)

		sender := Delivery{ConnectionID: "s1", Endpoint: "https://example/test"}
		err := router.RouteToChannel(ctx, "room1", []byte("hi"), "sender", sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"hi"}, transport.received("c1"))
		assert.Equal(t, []string{"hi"}, transport.received("c2"))

		remaining, err := members.QueryByChannel(ctx, "room1")
		assert.NoError(t, err)
		ids := map[string]bool{}
		for _, m := range remaining {
			ids[m.ConnectionID] = true
		}
		assert.Equal(t, map[string]bool{"c1": true, "c2": true}, ids)
	})

	t.Run("transient failure does not prune membership", func(t *testing.T) {
		router, _, members, _, transport := newTestRouter()
		join(t, router, "room1", "a", "c1")
		join(t, router, "room1", "b", "c2")
		transport.fail["c2"] = fmt.Errorf("throttled")

		sender := Delivery{ConnectionID: "s1", Endpoint: "https://example/test"}
		err := router.RouteToChannel(ctx, "room1", []byte("hi"), "sender", sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"hi"}, transport.received("c1"))

		remaining, err := members.QueryByChannel(ctx, "room1")
		assert.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("empty channel yields diagnostic to sender", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()

		sender := Delivery{ConnectionID: "s1", Endpoint: "https://example/test"}
		err := router.RouteToChannel(ctx, "room1", []byte("hi"), "sender", sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"No members in channel room1"}, transport.received("s1"))
	})

	t.Run("missing channel yields diagnostic", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()

		sender := Delivery{ConnectionID: "s1", Endpoint: "https://example/test"}
		err := router.RouteToChannel(ctx, "", []byte("hi"), "sender", sender)
		assert.NoError(t, err)
		assert.Equal(t, []string{"Cannot resolve channel"}, transport.received("s1"))
	})

	t.Run("server-originated broadcast suppresses diagnostics", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()

		err := router.RouteToChannel(ctx, "room1", []byte("hi"), "", Delivery{})
		assert.NoError(t, err)
		assert.Equal(t, 0, transport.totalDelivered())
	})

	t.Run("no sender exclusion for server-originated broadcast", func(t *testing.T) {
		router, _, _, _, transport := newTestRouter()
		join(t, router, "room1", "a", "c1")
		join(t, router, "room1", "b", "c2")

		err := router.RouteToChannel(ctx, "room1", []byte("tick"), "", Delivery{})
		assert.NoError(t, err)
		assert.Equal(t, []string{"tick"}, transport.received("c1"))
		assert.Equal(t, []string{"tick"}, transport.received("c2"))
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnect is idempotent", func(t *testing.T) {
		router, conns, _, _, _ := newTestRouter()
		assert.NoError(t, router.Connect(ctx, "c1", "alice", "https://example/test"))

		assert.NoError(t, router.Disconnect(ctx, "c1"))
		assert.NoError(t, router.Disconnect(ctx, "c1"))

		found, err := conns.QueryByUser(ctx, "alice")
		assert.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("connect overwrites a prior record for the same connection", func(t *testing.T) {
		router, conns, _, _, _ := newTestRouter()
		assert.NoError(t, router.Connect(ctx, "c1", "alice", "https://example/test"))
		assert.NoError(t, router.Connect(ctx, "c1", "bob", "https://example/test"))

		asAlice, err := conns.QueryByUser(ctx, "alice")
		assert.NoError(t, err)
		assert.Empty(t, asAlice)

		asBob, err := conns.QueryByUser(ctx, "bob")
		assert.NoError(t, err)
		assert.Len(t, asBob, 1)
	})

	t.Run("create channel registers creator as first member", func(t *testing.T) {
		router, _, members, registry, _ := newTestRouter()
		conn := Delivery{ConnectionID: "c1", Endpoint: "https://example/test"}
		assert.NoError(t, router.CreateChannel(ctx, "room1", "alice", conn))

		registry.mu.Lock()
		ch, ok := registry.channels["room1"]
		registry.mu.Unlock()
		assert.True(t, ok)
		assert.Equal(t, "alice", ch.CreatedBy)

		listed, err := members.QueryByChannel(ctx, "room1")
		assert.NoError(t, err)
		assert.Len(t, listed, 1)
		assert.Equal(t, "c1", listed[0].ConnectionID)
	})

	t.Run("leave channel is idempotent", func(t *testing.T) {
		router, _, members, _, _ := newTestRouter()
		conn := Delivery{ConnectionID: "c1", Endpoint: "https://example/test"}
		assert.NoError(t, router.JoinChannel(ctx, "room1", "alice", conn))

		assert.NoError(t, router.LeaveChannel(ctx, "room1", "c1"))
		assert.NoError(t, router.LeaveChannel(ctx, "room1", "c1"))

		listed, err := members.QueryByChannel(ctx, "room1")
		assert.NoError(t, err)
		assert.Empty(t, listed)
	})
}
