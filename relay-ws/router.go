// Package relayws implements the relay's connection/channel registry and
// message routing: resolving a logical recipient (user or channel) to a set
// of live connections, fanning a payload out to them, and healing the
// registry when delivery to a stale connection fails.
package relayws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaykit/relay/relay-ws/channeldao"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ConnectionStore is the durable connection registry the Router routes
// against. Satisfied by connectiondao.DAO.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Delete(ctx context.Context, connectionID string) error
	QueryByUser(ctx context.Context, userID string) ([]connectiondao.Connection, error)
}

// ChannelStore is the durable channel membership registry. Satisfied by
// memberdao.DAO.
type ChannelStore interface {
	Put(ctx context.Context, m memberdao.Membership) error
	Delete(ctx context.Context, channelID, connectionID string) error
	QueryByChannel(ctx context.Context, channelID string) ([]memberdao.Membership, error)
}

// ChannelRegistry records channel creation. Satisfied by channeldao.DAO.
type ChannelRegistry interface {
	Put(ctx context.Context, ch channeldao.Channel) error
}

// Router resolves routing requests into physical deliveries. All state lives
// in the stores; a Router instance holds no registry data of its own, so any
// number of handler instances may run concurrently.
type Router struct {
	Connections ConnectionStore
	Channels    ChannelStore
	Registry    ChannelRegistry
	Transport   Transport
	Logger      zerolog.Logger
	Concurrency int           // max concurrent deliveries per broadcast (default 50)
	TTL         time.Duration // TTL for connection and membership rows (default 2 hours)
}

func (r *Router) ttl() time.Duration {
	if r.TTL == 0 {
		return 2 * time.Hour
	}
	return r.TTL
}

// Connect records a live connection. Overwrite semantics: a connect event
// for a known connection ID replaces prior state.
func (r *Router) Connect(ctx context.Context, connectionID, userID, endpoint string) error {
	conn := connectiondao.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		Endpoint:     endpoint,
		ConnectedAt:  time.Now().Unix(),
		TTL:          time.Now().Add(r.ttl()).Unix(),
	}
	if err := r.Connections.Put(ctx, conn); err != nil {
		return fmt.Errorf("failed to store connection %v: %w", connectionID, err)
	}
	return nil
}

// Disconnect removes the connection record. Idempotent; membership rows are
// left in place and heal lazily at broadcast time.
func (r *Router) Disconnect(ctx context.Context, connectionID string) error {
	if err := r.Connections.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("failed to delete connection %v: %w", connectionID, err)
	}
	return nil
}

// RouteToUser delivers a payload to every live connection owned by a user.
// An empty or missing recipient produces a diagnostic message back to the
// sender only; a failing delivery never prevents delivery to the recipient's
// other connections. Stale connections discovered here are NOT pruned; only
// an explicit disconnect removes a connection record.
func (r *Router) RouteToUser(ctx context.Context, toUserID string, payload []byte, sender Delivery) error {
	if toUserID == "" {
		r.replyToSender(ctx, sender, DiagNoRecipient())
		return nil
	}

	conns, err := r.Connections.QueryByUser(ctx, toUserID)
	if err != nil {
		return fmt.Errorf("resolving connections for user %v: %w", toUserID, err)
	}

	if len(conns) == 0 {
		r.replyToSender(ctx, sender, DiagNoConnection(toUserID))
		return nil
	}

	for _, conn := range conns {
		to := Delivery{ConnectionID: conn.ConnectionID, Endpoint: conn.Endpoint}
		if err := r.Transport.Deliver(ctx, to, payload); err != nil {
			r.Logger.Warn().Err(err).
				Str("connection_id", conn.ConnectionID).
				Str("user_id", toUserID).
				Msg("direct delivery failed")
		}
	}
	return nil
}

// RouteToChannel broadcasts a payload to every member of a channel except
// connections owned by the sender. A delivery failure wrapping ErrGone
// prunes that member's row immediately and the fan-out continues; any other
// failure is logged and the member keeps its row.
func (r *Router) RouteToChannel(ctx context.Context, channelID string, payload []byte, senderUserID string, sender Delivery) error {
	if channelID == "" {
		r.replyToSender(ctx, sender, DiagNoChannel())
		return nil
	}

	members, err := r.Channels.QueryByChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("resolving members of channel %v: %w", channelID, err)
	}

	if len(members) == 0 {
		r.replyToSender(ctx, sender, DiagEmptyChannel(channelID))
		return nil
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, member := range members {
		if senderUserID != "" && member.UserID == senderUserID {
			continue
		}
		member := member
		g.Go(func() error {
			r.deliverToMember(ctx, channelID, member, payload)
			return nil
		})
	}

	return g.Wait()
}

func (r *Router) deliverToMember(ctx context.Context, channelID string, member memberdao.Membership, payload []byte) {
	to := Delivery{ConnectionID: member.ConnectionID, Endpoint: member.Endpoint}
	err := r.Transport.Deliver(ctx, to, payload)
	if err == nil {
		return
	}

	if errors.Is(err, ErrGone) {
		r.Logger.Info().
			Str("channel_id", channelID).
			Str("connection_id", member.ConnectionID).
			Msg("member gone, pruning membership")
		if err := r.Channels.Delete(ctx, channelID, member.ConnectionID); err != nil {
			r.Logger.Error().Err(err).
				Str("channel_id", channelID).
				Str("connection_id", member.ConnectionID).
				Msg("failed to prune membership for gone connection")
		}
		return
	}

	r.Logger.Warn().Err(err).
		Str("channel_id", channelID).
		Str("connection_id", member.ConnectionID).
		Msg("broadcast delivery failed")
}

// CreateChannel registers a channel and its creator as the first member.
func (r *Router) CreateChannel(ctx context.Context, channelID, userID string, conn Delivery) error {
	ch := channeldao.Channel{
		ChannelID: channelID,
		CreatedBy: userID,
		CreatedAt: time.Now().Unix(),
	}
	if err := r.Registry.Put(ctx, ch); err != nil {
		return fmt.Errorf("failed to store channel %v: %w", channelID, err)
	}
	return r.JoinChannel(ctx, channelID, userID, conn)
}

// JoinChannel upserts a membership row for the connection.
func (r *Router) JoinChannel(ctx context.Context, channelID, userID string, conn Delivery) error {
	m := memberdao.Membership{
		ChannelID:    channelID,
		ConnectionID: conn.ConnectionID,
		UserID:       userID,
		Endpoint:     conn.Endpoint,
		JoinedAt:     time.Now().Unix(),
		TTL:          time.Now().Add(r.ttl()).Unix(),
	}
	if err := r.Channels.Put(ctx, m); err != nil {
		return fmt.Errorf("failed to join channel %v: %w", channelID, err)
	}
	return nil
}

// LeaveChannel removes the connection's membership row. Idempotent.
func (r *Router) LeaveChannel(ctx context.Context, channelID, connectionID string) error {
	if err := r.Channels.Delete(ctx, channelID, connectionID); err != nil {
		return fmt.Errorf("failed to leave channel %v: %w", channelID, err)
	}
	return nil
}

// replyToSender delivers a routing diagnostic back to the sender's own
// connection. Server-originated broadcasts have no sender; those skip
// diagnostics entirely.
func (r *Router) replyToSender(ctx context.Context, sender Delivery, data []byte) {
	if sender.ConnectionID == "" {
		return
	}
	if err := r.Transport.Deliver(ctx, sender, data); err != nil {
		r.Logger.Warn().Err(err).
			Str("connection_id", sender.ConnectionID).
			Msg("failed to deliver diagnostic to sender")
	}
}
