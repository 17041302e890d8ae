package memberdao

// Membership represents one connection's membership in a channel.
// The channel is the partition key so listing a channel's members is a
// single-partition query; ConnectionID is the sort key, making the
// (channel, connection) pair the row identity. UserID and Endpoint are
// denormalized from the connection record so a broadcast can fan out
// without a second lookup.
type Membership struct {
	ChannelID    string `dynamodbav:"pk" ddb:"hash"`
	ConnectionID string `dynamodbav:"sk" ddb:"range"`
	UserID       string `dynamodbav:"user_id"`
	Endpoint     string `dynamodbav:"endpoint"`
	JoinedAt     int64  `dynamodbav:"joined_at"`
	TTL          int64  `dynamodbav:"ttl"`
}
