package relayws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	relaycli "github.com/relaykit/relay/relay-cli"
	"github.com/rs/zerolog"
)

// Handler routes API Gateway WebSocket events to the Router. Each invocation
// is a fresh, stateless handler instance call; all registry state lives in
// the stores behind the Router.
type Handler struct {
	Router  *Router
	Logger  zerolog.Logger
	Metrics *relaycli.Metrics
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()
	ctx = logger.WithContext(ctx)

	if h.Metrics != nil {
		defer h.Metrics.Timing(ctx, relaycli.ResponseTimeMetric, time.Now(), map[relaycli.DimensionName]string{
			relaycli.RouteDimension: req.RequestContext.RouteKey,
		})
	}

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := userIdentity(req)
	if userID == "" {
		logger.Warn().Msg("connect without resolved user identity")
	}

	if err := h.Router.Connect(ctx, req.RequestContext.ConnectionID, userID, callbackEndpoint(req)); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	logger.Info().Str("user_id", userID).Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: 200, Body: "Connected."}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	// Membership rows are intentionally left behind; they heal at broadcast
	// time when delivery reports the connection gone.
	if err := h.Router.Disconnect(ctx, req.RequestContext.ConnectionID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	logger.Info().Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: 200, Body: "Disconnected."}, nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	sender := Delivery{
		ConnectionID: req.RequestContext.ConnectionID,
		Endpoint:     callbackEndpoint(req),
	}
	senderUserID := userIdentity(req)

	msg, err := ParseInbound(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("undecodable message")
		h.reply(ctx, logger, sender, DiagInvalidPayload())
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	switch {
	case msg.IsDirect():
		err = h.Router.RouteToUser(ctx, msg.To, []byte(msg.Message), sender)

	case msg.Action == ActionChannelCreate:
		if msg.ChannelID == "" {
			h.reply(ctx, logger, sender, DiagNoChannel())
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		}
		err = h.Router.CreateChannel(ctx, msg.ChannelID, senderUserID, sender)

	case msg.Action == ActionChannelJoin:
		if msg.ChannelID == "" {
			h.reply(ctx, logger, sender, DiagNoChannel())
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		}
		err = h.Router.JoinChannel(ctx, msg.ChannelID, senderUserID, sender)

	case msg.Action == ActionChannelLeave:
		if msg.ChannelID == "" {
			h.reply(ctx, logger, sender, DiagNoChannel())
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		}
		err = h.Router.LeaveChannel(ctx, msg.ChannelID, sender.ConnectionID)

	case msg.Action == ActionChannelSend:
		err = h.Router.RouteToChannel(ctx, msg.ChannelID, []byte(msg.Message), senderUserID, sender)

	default:
		logger.Warn().Str("action", msg.Action).Msg("unknown action")
		h.reply(ctx, logger, sender, DiagUnknownAction(msg.Action))
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	if err != nil {
		logger.Error().Err(err).Str("action", msg.Action).Msg("failed to process message")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	return events.APIGatewayProxyResponse{StatusCode: 200, Body: "Sent."}, nil
}

func (h *Handler) reply(ctx context.Context, logger zerolog.Logger, sender Delivery, data []byte) {
	if err := h.Router.Transport.Deliver(ctx, sender, data); err != nil {
		logger.Warn().Err(err).Msg("failed to deliver diagnostic to sender")
	}
}

// userIdentity extracts the already-resolved user identity supplied by the
// authorizer; falls back to the Auth header for local setups without one.
func userIdentity(req events.APIGatewayWebsocketProxyRequest) string {
	if auth, ok := req.RequestContext.Authorizer.(map[string]interface{}); ok {
		for _, key := range []string{"userId", "principalId"} {
			if v, ok := auth[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return req.Headers["Auth"]
}

func callbackEndpoint(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}
