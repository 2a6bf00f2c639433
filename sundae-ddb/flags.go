package sundaeddb

import (
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/service/dynamodbstreams"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster     string
	DAXRegion      string
	Endpoint       string
	Region         string
	TableName      string
	StreamIterator string
	PollInterval   time.Duration
	ShardRefresh   time.Duration
}

var DAXClusterFlag = sundaecli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = sundaecli.StringFlag("dax-region", "The region of the DAX cluster", &DDBOpts.DAXRegion, "us-east-2")
var EndpointFlag = sundaecli.StringFlag("ddb-endpoint", "DynamoDB endpoint override, e.g. http://localhost:8000", &DDBOpts.Endpoint)
var RegionFlag = sundaecli.StringFlag("aws-region", "AWS region", &DDBOpts.Region)
var TableNameFlag = sundaecli.StringFlag("table-name", "The table name to read streams from", &DDBOpts.TableName)
var StreamIteratorFlag = sundaecli.StringFlag("stream-iterator", "Where to start reading existing shards (LATEST, TRIM_HORIZON)", &DDBOpts.StreamIterator, dynamodbstreams.ShardIteratorTypeLatest)
var PollIntervalFlag = sundaecli.DurationFlag("stream-poll-interval", "Wait between empty reads of an open shard", &DDBOpts.PollInterval, time.Second)
var ShardRefreshFlag = sundaecli.DurationFlag("stream-shard-refresh", "How often to look for new shards", &DDBOpts.ShardRefresh, time.Minute)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
	EndpointFlag,
	RegionFlag,
	TableNameFlag,
	StreamIteratorFlag,
	PollIntervalFlag,
	ShardRefreshFlag,
}
