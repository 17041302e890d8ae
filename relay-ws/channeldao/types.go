package channeldao

// Channel is the registry row for a named channel, written when the channel
// is created. Membership lives in its own table; this record exists so the
// ops API can enumerate channels.
type Channel struct {
	ChannelID string `dynamodbav:"pk" ddb:"hash"`
	CreatedBy string `dynamodbav:"created_by"`
	CreatedAt int64  `dynamodbav:"created_at"`
}
