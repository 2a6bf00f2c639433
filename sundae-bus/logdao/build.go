package logdao

import "github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

// Build creates a log DAO using the standard table names for the given
// environment.
func Build(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, MessagesTableName(env), CountersTableName(env))
}

// MessagesTableName returns the DynamoDB table holding message rows.
func MessagesTableName(env string) string {
	return env + "-sundae-bus--messages"
}

// CountersTableName returns the DynamoDB table holding per-stream sequence
// counters.
func CountersTableName(env string) string {
	return env + "-sundae-bus--counters"
}
