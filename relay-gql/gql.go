// Package relaygql provides the GraphQL handler for the relay's ops API,
// with introspection controls and a JSON scalar for opaque payloads.
package relaygql

import (
	"fmt"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	relaycli "github.com/relaykit/relay/relay-cli"
)

type Resolver interface {
	Schema() string
}

func AllowIntrospection() bool {
	return relaycli.CommonOpts.Env != "prod" || relaycli.CommonOpts.Console
}

// GraphQLRelay constructs an http handler for graphql requests
func GraphQLRelay(resolver Resolver) (*relay.Handler, error) {
	opts := []graphql.SchemaOpt{
		graphql.MaxDepth(15),
		graphql.UseFieldResolvers(),
	}
	if !AllowIntrospection() {
		opts = append(opts, graphql.DisableIntrospection())
	}

	schema, err := graphql.ParseSchema(resolver.Schema(), resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse schema: %w", err)
	}

	return &relay.Handler{Schema: schema}, nil
}
