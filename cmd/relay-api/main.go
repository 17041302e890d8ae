package main

import (
	"log"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	relaycli "github.com/relaykit/relay/relay-cli"
	relayddb "github.com/relaykit/relay/relay-ddb"
	relaygql "github.com/relaykit/relay/relay-gql"
	relayrest "github.com/relaykit/relay/relay-rest"
	relaysecret "github.com/relaykit/relay/relay-secret"
	"github.com/relaykit/relay/relay-ws/channeldao"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/relaykit/relay/relay-ws/publish"
	"github.com/urfave/cli/v2"
)

var service = relaycli.NewService("relay-api")

var opts struct {
	SecretName string
}

func main() {
	flags := append([]cli.Flag{}, relaycli.CommonFlags...)
	flags = append(flags, relayddb.DDBFlags...)
	flags = append(flags,
		relaycli.PortFlag(5001),
		relaycli.StringFlag("secret-name", "Secrets Manager entry holding the ops API token", &opts.SecretName, "relay/ops-api"),
	)

	app := relaycli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := relayddb.DynamoDBAPI(sess)
	if err != nil {
		return err
	}

	var (
		env    = relaycli.CommonOpts.Env
		logger = relaycli.Logger(service)
	)

	resolver := NewResolver(logger,
		connectiondao.Build(api, env),
		memberdao.Build(api, env),
		channeldao.Build(api, env),
		publish.Build(env),
	)

	relayHandler, err := relaygql.GraphQLRelay(resolver)
	if err != nil {
		return err
	}

	router := relayrest.Middlewares(service, chi.NewRouter())

	// Console mode skips the token check so the API is usable against a
	// local stack without Secrets Manager access.
	if !relaycli.CommonOpts.Console {
		var secret struct {
			Token string `json:"token"`
		}
		if err := relaysecret.LoadSecret(sess, opts.SecretName, &secret); err != nil {
			return err
		}
		router.Use(withBearer(secret.Token))
	}

	router.Get("/health", relayrest.Health())
	router.Post("/graphql", middleware.NoCache(relayHandler).ServeHTTP)

	return relayrest.Webserver(service, router)
}

func withBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/health" {
				next.ServeHTTP(w, req)
				return
			}
			if req.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
