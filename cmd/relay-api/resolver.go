package main

import (
	"context"

	_ "embed"

	relaygql "github.com/relaykit/relay/relay-gql"
	"github.com/relaykit/relay/relay-ws/channeldao"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/relaykit/relay/relay-ws/publish"
	"github.com/rs/zerolog"
)

//go:embed relay.gql
var schema string

type Resolver struct {
	logger    zerolog.Logger
	conns     *connectiondao.DAO
	members   *memberdao.DAO
	channels  *channeldao.DAO
	publisher *publish.Publisher
}

func NewResolver(logger zerolog.Logger, conns *connectiondao.DAO, members *memberdao.DAO, channels *channeldao.DAO, publisher *publish.Publisher) *Resolver {
	return &Resolver{
		logger:    logger,
		conns:     conns,
		members:   members,
		channels:  channels,
		publisher: publisher,
	}
}

func (r *Resolver) Schema() string {
	return schema
}

func (r *Resolver) Channels(ctx context.Context) ([]*ChannelResolver, error) {
	list, err := r.channels.List(ctx)
	if err != nil {
		return nil, err
	}
	resolvers := make([]*ChannelResolver, 0, len(list))
	for _, ch := range list {
		resolvers = append(resolvers, &ChannelResolver{ch: ch, members: r.members})
	}
	return resolvers, nil
}

func (r *Resolver) Channel(ctx context.Context, args struct{ ID string }) (*ChannelResolver, error) {
	ch, err := r.channels.Get(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, nil
	}
	return &ChannelResolver{ch: *ch, members: r.members}, nil
}

func (r *Resolver) Connections(ctx context.Context, args struct{ UserID string }) ([]ConnectionResolver, error) {
	conns, err := r.conns.QueryByUser(ctx, args.UserID)
	if err != nil {
		return nil, err
	}
	resolvers := make([]ConnectionResolver, 0, len(conns))
	for _, conn := range conns {
		resolvers = append(resolvers, ConnectionResolver{
			ConnectionID: conn.ConnectionID,
			UserID:       conn.UserID,
			ConnectedAt:  float64(conn.ConnectedAt),
		})
	}
	return resolvers, nil
}

func (r *Resolver) Publish(ctx context.Context, args struct {
	Channel string
	Payload relaygql.JSON
}) (bool, error) {
	if err := r.publisher.Send(ctx, args.Channel, args.Payload.Data); err != nil {
		return false, err
	}
	r.logger.Info().Str("channel", args.Channel).Msg("published broadcast")
	return true, nil
}

// EvictConnection is the admin force-disconnect: it removes the connection
// record and every membership row the connection holds.
func (r *Resolver) EvictConnection(ctx context.Context, args struct{ ConnectionID string }) (bool, error) {
	if err := r.members.DeleteByConnection(ctx, args.ConnectionID); err != nil {
		return false, err
	}
	if err := r.conns.Delete(ctx, args.ConnectionID); err != nil {
		return false, err
	}
	r.logger.Info().Str("connection_id", args.ConnectionID).Msg("evicted connection")
	return true, nil
}

type ChannelResolver struct {
	ch      channeldao.Channel
	members *memberdao.DAO
}

func (c *ChannelResolver) ID() string {
	return c.ch.ChannelID
}

func (c *ChannelResolver) CreatedBy() string {
	return c.ch.CreatedBy
}

func (c *ChannelResolver) CreatedAt() float64 {
	return float64(c.ch.CreatedAt)
}

func (c *ChannelResolver) Members(ctx context.Context) ([]MemberResolver, error) {
	members, err := c.members.QueryByChannel(ctx, c.ch.ChannelID)
	if err != nil {
		return nil, err
	}
	resolvers := make([]MemberResolver, 0, len(members))
	for _, m := range members {
		resolvers = append(resolvers, MemberResolver{
			ChannelID:    m.ChannelID,
			ConnectionID: m.ConnectionID,
			UserID:       m.UserID,
		})
	}
	return resolvers, nil
}

type MemberResolver struct {
	ChannelID    string
	ConnectionID string
	UserID       string
}

type ConnectionResolver struct {
	ConnectionID string
	UserID       string
	ConnectedAt  float64
}
