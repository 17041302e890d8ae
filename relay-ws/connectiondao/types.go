package connectiondao

// Connection represents a live WebSocket connection stored in DynamoDB.
// ConnectionID is assigned by the transport layer; UserID is the logical
// identity supplied by the authorizer at connect time.
type Connection struct {
	ConnectionID string `dynamodbav:"pk" ddb:"hash"`
	UserID       string `dynamodbav:"user_id" ddb:"gsi_hash:UserIndex"`
	Endpoint     string `dynamodbav:"endpoint"`
	ConnectedAt  int64  `dynamodbav:"connected_at"`
	TTL          int64  `dynamodbav:"ttl"`
}
