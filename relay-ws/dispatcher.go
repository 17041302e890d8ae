package relayws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	consumer "github.com/harlow/kinesis-consumer"
	relaycli "github.com/relaykit/relay/relay-cli"
	"github.com/relaykit/relay/relay-ws/publish"
	"github.com/rs/zerolog"
)

// Dispatcher fans server-originated Kinesis events out to channel members.
type Dispatcher struct {
	Router *Router
	Logger zerolog.Logger
}

// Start runs as a Kinesis-triggered Lambda, or consumes the stream directly
// in console mode.
func (d *Dispatcher) Start(streamName string) error {
	if !relaycli.CommonOpts.Console {
		lambda.Start(d.HandleKinesisEvent)
		return nil
	}
	return d.handleRealtime(streamName)
}

// HandleKinesisEvent processes a batch of Kinesis records, fanning each one
// out to the members of its channel.
func (d *Dispatcher) HandleKinesisEvent(ctx context.Context, event events.KinesisEvent) error {
	for _, record := range event.Records {
		if err := d.processRecord(ctx, record); err != nil {
			d.Logger.Error().Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process kinesis record")
			// Continue processing other records rather than failing the whole batch
		}
	}
	return nil
}

func (d *Dispatcher) processRecord(ctx context.Context, record events.KinesisEventRecord) error {
	var envelope publish.Envelope
	if err := json.Unmarshal(record.Kinesis.Data, &envelope); err != nil {
		return fmt.Errorf("unmarshalling kinesis record: %w", err)
	}

	if envelope.Channel == "" {
		d.Logger.Warn().Msg("kinesis record has empty channel, skipping")
		return nil
	}

	// No sender: nobody is excluded and routing diagnostics are suppressed.
	return d.Router.RouteToChannel(ctx, envelope.Channel, envelope.Payload, "", Delivery{})
}

func (d *Dispatcher) handleRealtime(streamName string) error {
	c, err := consumer.New(streamName, consumer.WithShardIteratorType("LATEST"))
	if err != nil {
		return err
	}

	ctx := d.Logger.WithContext(context.Background())
	callback := func(record *consumer.Record) error {
		er := events.KinesisEventRecord{
			Kinesis: events.KinesisRecord{Data: record.Data},
		}
		return d.processRecord(ctx, er)
	}
	d.Logger.Info().Str("stream", streamName).Msg("listening")
	return c.Scan(ctx, callback)
}
