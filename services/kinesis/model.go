package kinesis

import (
	"math/big"
	"time"

	"kinesisbox/services/kinesis/shardmath"
)

type StreamStatus string

const (
	StreamStatusCreating StreamStatus = "CREATING"
	StreamStatusActive   StreamStatus = "ACTIVE"
	StreamStatusUpdating StreamStatus = "UPDATING"
	StreamStatusDeleting StreamStatus = "DELETING"
)

type StreamMode string

const (
	StreamModeProvisioned StreamMode = "PROVISIONED"
	StreamModeOnDemand    StreamMode = "ON_DEMAND"
)

type EncryptionType string

const (
	EncryptionTypeNone EncryptionType = "NONE"
	EncryptionTypeKMS  EncryptionType = "KMS"
)

type ConsumerStatus string

const (
	ConsumerStatusCreating ConsumerStatus = "CREATING"
	ConsumerStatusActive   ConsumerStatus = "ACTIVE"
	ConsumerStatusDeleting ConsumerStatus = "DELETING"
)

// EnhancedMetricNames is the fixed set of shard-level metrics a stream may
// enable, per the ListShards/EnableEnhancedMonitoring documentation.
var EnhancedMetricNames = []string{
	"IncomingBytes",
	"IncomingRecords",
	"OutgoingBytes",
	"OutgoingRecords",
	"WriteProvisionedThroughputExceeded",
	"ReadProvisionedThroughputExceeded",
	"IteratorAgeMilliseconds",
}

// ShardCountEntry is one row of a stream's shard-count audit log.
type ShardCountEntry struct {
	Timestamp  time.Time
	ShardCount int
}

// Stream is the engine's internal representation; APIStreamDescription and
// friends in types.go are derived views of it for the wire.
type Stream struct {
	AccountId string
	Region    string
	Name      string
	ARN       string

	CreationTimestamp time.Time
	Status            StreamStatus
	Mode              StreamMode
	RetentionPeriod   time.Duration
	EncryptionType    EncryptionType
	KMSKeyId          string

	ShardLevelMetrics map[string]bool
	Tags              map[string]string

	Consumers map[string]*Consumer // by consumer name

	// Shards holds every shard this stream has ever had, in creation
	// order; closed shards are never removed, even after retention GC has
	// purged their records.
	Shards         []*Shard
	NextShardIndex int64

	ShardCountHistory []ShardCountEntry
}

func (s *Stream) openShards() []*Shard {
	var open []*Shard
	for _, shard := range s.Shards {
		if shard.isOpen() {
			open = append(open, shard)
		}
	}
	return open
}

func (s *Stream) shardByID(id string) *Shard {
	for _, shard := range s.Shards {
		if shard.ShardId == id {
			return shard
		}
	}
	return nil
}

func (s *Stream) recordShardCount(now time.Time) {
	s.ShardCountHistory = append(s.ShardCountHistory, ShardCountEntry{
		Timestamp:  now,
		ShardCount: len(s.openShards()),
	})
}

// Shard is one partition of a stream's hash-key space.
type Shard struct {
	StreamName string
	ShardId    string
	Index      int64 // monotonic creation order, feeds the sequence-number codec

	HashKeyRange shardmath.HashKeyRange
	CreatedAt    time.Time

	StartingSequenceNumber string
	EndingSequenceNumber   *string

	ParentShardId         string
	AdjacentParentShardId string

	Records []Record

	NextByteOffset  uint64
	NextSubSequence uint32

	ThroughputWindowStart time.Time
	ThroughputBytesUsed   int64
	ThroughputRecordsUsed int64
}

func (sh *Shard) isOpen() bool {
	return sh.EndingSequenceNumber == nil
}

func (sh *Shard) close(endingSequenceNumber string) {
	sh.EndingSequenceNumber = &endingSequenceNumber
}

func (sh *Shard) lastArrival() time.Time {
	if len(sh.Records) == 0 {
		return time.Time{}
	}
	return sh.Records[len(sh.Records)-1].ApproximateArrivalTimestamp
}

func (sh *Shard) key() string {
	return sh.StreamName + "/" + sh.ShardId
}

// Record is one appended payload.
type Record struct {
	Data                        []byte
	PartitionKey                string
	ExplicitHashKey             *big.Int
	ApproximateArrivalTimestamp time.Time
	SequenceNumber              string
	EncryptionType              EncryptionType
}

// Consumer is an enhanced-fan-out registration against one stream.
type Consumer struct {
	Name              string
	ARN               string
	StreamARN         string
	StreamName        string
	Status            ConsumerStatus
	CreationTimestamp time.Time
}
