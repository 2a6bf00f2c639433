package logdao

// Record is a message row. Rows are keyed by dedup key so a replayed
// publish cannot insert twice; StreamIndex orders a stream by sequence.
type Record struct {
	DedupKey  string `dynamodbav:"pk" ddb:"hash"`
	StreamID  string `dynamodbav:"stream_id" ddb:"gsi_hash:StreamIndex"`
	Sequence  int64  `dynamodbav:"seq" ddb:"gsi_range:StreamIndex"`
	Body      []byte `dynamodbav:"body,omitempty"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

// Counter holds the last sequence assigned to a stream.
type Counter struct {
	StreamID string `dynamodbav:"pk" ddb:"hash"`
	Sequence int64  `dynamodbav:"seq"`
}
