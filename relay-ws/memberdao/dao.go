package memberdao

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the channel memberships table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new memberships DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Membership{}),
		api:       api,
		tableName: tableName,
	}
}

// Put upserts a membership row. Re-joining a channel is harmless.
func (d *DAO) Put(ctx context.Context, m Membership) error {
	return d.table.Put(m).RunWithContext(ctx)
}

// Delete removes a membership row. Absence is not an error.
func (d *DAO) Delete(ctx context.Context, channelID, connectionID string) error {
	return d.table.Delete(channelID).Range(connectionID).RunWithContext(ctx)
}

// QueryByChannel returns all membership rows for a channel. The channel is
// the partition key, so this is a single Query against the base table.
func (d *DAO) QueryByChannel(ctx context.Context, channelID string) ([]Membership, error) {
	var members []Membership
	err := d.table.Query("#ChannelID = ?", channelID).
		FindAllWithContext(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of channel %v: %w", channelID, err)
	}
	return members, nil
}

// QueryByConnection returns all membership rows held by a connection using
// the ConnectionIndex GSI.
func (d *DAO) QueryByConnection(ctx context.Context, connectionID string) ([]Membership, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String("ConnectionIndex"),
		KeyConditionExpression: aws.String("sk = :sk"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":sk": {S: aws.String(connectionID)},
		},
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships by connection %v: %w", connectionID, err)
	}

	var members []Membership
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &members); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memberships for connection %v: %w", connectionID, err)
	}
	return members, nil
}

// DeleteByConnection removes every membership row held by a connection.
func (d *DAO) DeleteByConnection(ctx context.Context, connectionID string) error {
	members, err := d.QueryByConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	// Batch delete in chunks of 25 (DynamoDB limit)
	const batchSize = 25
	for i := 0; i < len(members); i += batchSize {
		end := i + batchSize
		if end > len(members) {
			end = len(members)
		}
		chunk := members[i:end]

		writeRequests := make([]*dynamodb.WriteRequest, len(chunk))
		for j, m := range chunk {
			key, err := dynamodbattribute.MarshalMap(map[string]string{"pk": m.ChannelID, "sk": m.ConnectionID})
			if err != nil {
				return fmt.Errorf("failed to marshal key for membership %v/%v: %w", m.ChannelID, m.ConnectionID, err)
			}
			writeRequests[j] = &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: key},
			}
		}

		unprocessed := map[string][]*dynamodb.WriteRequest{
			d.tableName: writeRequests,
		}

		const maxRetries = 5
		for attempt := 0; attempt < maxRetries; attempt++ {
			output, err := d.api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return fmt.Errorf("failed to batch delete memberships for connection %v: %w", connectionID, err)
			}
			if len(output.UnprocessedItems) == 0 {
				break
			}
			unprocessed = output.UnprocessedItems
			if attempt < maxRetries-1 {
				backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
				timer := time.NewTimer(backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return fmt.Errorf("context cancelled during retry for connection %v: %w", connectionID, ctx.Err())
				case <-timer.C:
				}
			} else {
				return fmt.Errorf("failed to delete all memberships for connection %v: %d items unprocessed after %d retries", connectionID, len(unprocessed[d.tableName]), maxRetries)
			}
		}
	}

	return nil
}

// Count returns the number of members in a channel.
func (d *DAO) Count(ctx context.Context, channelID string) (int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pk": {S: aws.String(channelID)},
		},
		Select: aws.String("COUNT"),
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to count members of channel %v: %w", channelID, err)
	}

	return *output.Count, nil
}
