package channeldao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the channel registry table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new channel registry DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Channel{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a channel record. Re-creating an existing channel overwrites it.
func (d *DAO) Put(ctx context.Context, ch Channel) error {
	return d.table.Put(ch).RunWithContext(ctx)
}

// Get retrieves a channel record. Returns nil if the channel was never created.
func (d *DAO) Get(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := d.table.Get(channelID).ScanWithContext(ctx, &ch); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel %v: %w", channelID, err)
	}
	return &ch, nil
}

// List returns all channel records. The registry is small; a full scan is fine.
func (d *DAO) List(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	var pageErr error
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}
	err := d.api.ScanPagesWithContext(ctx, input, func(output *dynamodb.ScanOutput, lastPage bool) bool {
		var page []Channel
		if pageErr = dynamodbattribute.UnmarshalListOfMaps(output.Items, &page); pageErr != nil {
			return false
		}
		channels = append(channels, page...)
		return true
	})
	if err == nil {
		err = pageErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}
