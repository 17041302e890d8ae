package main

import (
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	relaycli "github.com/relaykit/relay/relay-cli"
	relayddb "github.com/relaykit/relay/relay-ddb"
	relayws "github.com/relaykit/relay/relay-ws"
	"github.com/relaykit/relay/relay-ws/connectiondao"
	"github.com/relaykit/relay/relay-ws/memberdao"
	"github.com/relaykit/relay/relay-ws/publish"
	"github.com/urfave/cli/v2"
)

var service = relaycli.NewService("relay-dispatcher")

var opts struct {
	Stream string
}

func main() {
	flags := append([]cli.Flag{}, relaycli.CommonFlags...)
	flags = append(flags, relayddb.DDBFlags...)
	flags = append(flags,
		relaycli.StringFlag("stream-name", "The relay events stream to consume", &opts.Stream),
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

	router := &relayws.Router{
		Connections: connectiondao.Build(api, env),
		Channels:    memberdao.Build(api, env),
		Transport:   &relayws.APIGatewayTransport{},
		Logger:      logger,
	}

	dispatcher := &relayws.Dispatcher{
		Router: router,
		Logger: logger,
	}

	streamName := opts.Stream
	if streamName == "" {
		streamName = publish.StreamName(env)
	}

	return dispatcher.Start(streamName)
}
