package relayws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
)

// ErrGone indicates the target connection is permanently unreachable. A
// delivery failure wrapping ErrGone is the only failure kind that triggers
// membership pruning; everything else is treated as transient.
var ErrGone = errors.New("connection gone")

// Delivery identifies one physical delivery target.
type Delivery struct {
	ConnectionID string
	Endpoint     string
}

// Transport pushes a payload to one physical connection.
type Transport interface {
	Deliver(ctx context.Context, to Delivery, data []byte) error
}

// APIGatewayTransport delivers payloads via the API Gateway Management API,
// caching one client per callback endpoint.
type APIGatewayTransport struct {
	mgmtMu      sync.RWMutex
	mgmtClients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

func (t *APIGatewayTransport) Deliver(ctx context.Context, to Delivery, data []byte) error {
	client := t.getManagementClient(to.Endpoint)
	_, err := client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(to.ConnectionID),
		Data:         data,
	})
	if err != nil {
		if isGoneException(err) {
			return fmt.Errorf("connection %v: %w", to.ConnectionID, ErrGone)
		}
		return fmt.Errorf("posting to connection %v: %w", to.ConnectionID, err)
	}
	return nil
}

func (t *APIGatewayTransport) getManagementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	t.mgmtMu.RLock()
	if client, ok := t.mgmtClients[endpoint]; ok {
		t.mgmtMu.RUnlock()
		return client
	}
	t.mgmtMu.RUnlock()

	t.mgmtMu.Lock()
	defer t.mgmtMu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := t.mgmtClients[endpoint]; ok {
		return client
	}

	if t.mgmtClients == nil {
		t.mgmtClients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}

	sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	client := apigatewaymanagementapi.New(sess)
	t.mgmtClients[endpoint] = client
	return client
}

// isGoneException checks if the error is a GoneException (HTTP 410),
// indicating the WebSocket connection no longer exists.
func isGoneException(err error) bool {
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}
