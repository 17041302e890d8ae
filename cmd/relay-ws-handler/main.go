package main

import (
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	relaycli "github.com/relaykit/relay/relay-cli"
	relayddb "github.com/relaykit/relay/relay-ddb"
	relayws "github.com/relaykit/relay/relay-ws"
	"github.com/relaykit/relay/relay-ws/channeldao"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/urfave/cli/v2"
)

var service = relaycli.NewService("relay-ws-handler")

func main() {
	app := relaycli.App(
		service,
		action,
		append(
			relaycli.CommonFlags,
			relayddb.DDBFlags...,
		)...,
	)
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
		env     = relaycli.CommonOpts.Env
		logger  = relaycli.Logger(service)
		metrics = relaycli.NewMetrics(service, cloudwatch.New(sess))
	)

	router := &relayws.Router{
		Connections: connectiondao.Build(api, env),
		Channels:    memberdao.Build(api, env),
		Registry:    channeldao.Build(api, env),
		Transport:   &relayws.APIGatewayTransport{},
		Logger:      logger,
	}

	handler := &relayws.Handler{
		Router:  router,
		Logger:  logger,
		Metrics: &metrics,
	}

	lambda.Start(handler.HandleEvent)
	return nil
}
