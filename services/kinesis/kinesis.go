// Package kinesis implements the hard core of the emulator: the in-memory
// stream/shard state engine (C1/C3/C4), its request handlers (C5), the
// delayed-transition scheduler (C6), the regional coordinator (C7), and
// the snapshot codec (C8). The JSON/CBOR request codec of the HTTP
// boundary (C10) lives in the http and server packages, with http.go here
// only registering each operation on it and serving SubscribeToShard; the
// bootstrap (C9) that drives pre-initialization and periodic snapshotting
// lives in main.go.
package kinesis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kinesisbox/arn"
	"kinesisbox/awserrors"
)

// Limits holds the service quotas enforced across every region.
type Limits struct {
	// ShardLimitPerAccount bounds the number of open shards, counted across
	// every stream, that a single account may hold in one region. It is
	// checked when a PROVISIONED stream is created and on SplitShard and
	// UpdateShardCount.
	ShardLimitPerAccount int

	// OnDemandStreamShardLimit is the effective open-shard ceiling for a
	// single ON_DEMAND stream (AWS auto-scales these; we just cap them).
	OnDemandStreamShardLimit int

	// OnDemandStreamCountLimit bounds how many ON_DEMAND streams one
	// account may hold in a region. Zero means unlimited.
	OnDemandStreamCountLimit int

	// MaxShardsPerStream bounds UpdateShardCount/SplitShard/CreateStream
	// regardless of mode.
	MaxShardsPerStream int
}

// DefaultLimits mirrors the documented AWS defaults.
var DefaultLimits = Limits{
	ShardLimitPerAccount:     50,
	OnDemandStreamShardLimit: 500,
	OnDemandStreamCountLimit: 0,
	MaxShardsPerStream:       10000,
}

// Options configures a Cache. Zero-valued Stream*Duration fields mean
// "transition immediately" rather than "use a default" — callers that want
// the documented AWS-like defaults should set them explicitly (main.go does,
// from flags). A zero DefaultRetention becomes 24 hours.
type Options struct {
	Logger *slog.Logger
	Clock  Clock

	AwsAccountId  string
	DefaultRegion string

	DefaultRetention     time.Duration
	StreamCreateDuration time.Duration
	StreamDeleteDuration time.Duration
	StreamUpdateDuration time.Duration

	Limits Limits
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = RealClock
	}
	if o.AwsAccountId == "" {
		o.AwsAccountId = "000000000000"
	}
	if o.DefaultRegion == "" {
		o.DefaultRegion = "us-east-1"
	}
	if o.DefaultRetention == 0 {
		o.DefaultRetention = 24 * time.Hour
	}
	if o.Limits.ShardLimitPerAccount == 0 {
		o.Limits.ShardLimitPerAccount = DefaultLimits.ShardLimitPerAccount
	}
	if o.Limits.OnDemandStreamShardLimit == 0 {
		o.Limits.OnDemandStreamShardLimit = DefaultLimits.OnDemandStreamShardLimit
	}
	if o.Limits.MaxShardsPerStream == 0 {
		o.Limits.MaxShardsPerStream = DefaultLimits.MaxShardsPerStream
	}
	return o
}

// Cache is the top-level coordinator (C7): it owns one Per-Region Store per
// region that has been touched, fans requests out to the right one, and
// guarantees that operations against different regions proceed
// concurrently while operations against the same region are serialized.
type Cache struct {
	options Options

	mu      sync.Mutex // protects only `regions` map membership
	regions map[string]*regionStore
}

// New constructs a Cache. It does not create any region stores eagerly;
// they're created lazily on first use by storeFor, so an untouched region
// costs nothing.
func New(options Options) *Cache {
	options = options.withDefaults()
	return &Cache{
		options: options,
		regions: make(map[string]*regionStore),
	}
}

// storeFor returns the region's store, creating it if this is the first
// request ever seen for that region.
func (c *Cache) storeFor(region string) *regionStore {
	if region == "" {
		region = c.options.DefaultRegion
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.regions[region]
	if !ok {
		store = newRegionStore(region, c.options)
		c.regions[region] = store
	}
	return store
}

// regionNames returns every region with a store, for snapshotting.
func (c *Cache) regionNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.regions))
	for name := range c.regions {
		names = append(names, name)
	}
	return names
}

// regionStore is the Per-Region Store (C4): the unit of consistency. All
// mutation of its streams happens under mu, which also backs the
// scheduler's delayed transitions for this region.
type regionStore struct {
	region    string
	accountId string
	arnGen    arn.Generator
	logger    *slog.Logger
	clock     Clock
	limits    Limits

	createDuration time.Duration
	deleteDuration time.Duration
	updateDuration time.Duration
	retention      time.Duration

	scheduler *scheduler
	iterators *iteratorSigner

	mu             sync.Mutex
	streams        map[string]*Stream
	consumersByARN map[string]*Consumer

	// subscribers fans out newly-appended records to live SubscribeToShard
	// calls, keyed by Shard.key(). It is deliberately kept off the Stream
	// graph rather than embedded in Shard: channels aren't gob-encodable,
	// and an open HTTP/2 streaming subscription doesn't survive a process
	// restart anyway, so persist.go never has to know this exists.
	subMu       sync.Mutex
	subscribers map[string]map[chan subscribeToShardEvent]struct{}
}

func newRegionStore(region string, options Options) *regionStore {
	return &regionStore{
		region:    region,
		accountId: options.AwsAccountId,
		arnGen: arn.Generator{
			AwsAccountId: options.AwsAccountId,
			Region:       region,
		},
		logger:         options.Logger.With("region", region),
		clock:          options.Clock,
		limits:         options.Limits,
		createDuration: options.StreamCreateDuration,
		deleteDuration: options.StreamDeleteDuration,
		updateDuration: options.StreamUpdateDuration,
		retention:      options.DefaultRetention,
		scheduler:      newScheduler(options.Clock),
		iterators:      newIteratorSigner(),
		streams:        make(map[string]*Stream),
		consumersByARN: make(map[string]*Consumer),
		subscribers:    make(map[string]map[chan subscribeToShardEvent]struct{}),
	}
}

// subscribe registers ch to receive future publish calls for the shard and
// returns an unsubscribe func. ch is buffered by the caller; subscribe
// itself never blocks.
func (s *regionStore) subscribe(shard *Shard, ch chan subscribeToShardEvent) func() {
	key := shard.key()

	s.subMu.Lock()
	set, ok := s.subscribers[key]
	if !ok {
		set = make(map[chan subscribeToShardEvent]struct{})
		s.subscribers[key] = set
	}
	set[ch] = struct{}{}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers[key], ch)
		if len(s.subscribers[key]) == 0 {
			delete(s.subscribers, key)
		}
	}
}

// publish fans event out to every live subscriber of shard. A slow
// subscriber is dropped from delivery for this event rather than stalling
// record ingestion.
func (s *regionStore) publish(shard *Shard, event subscribeToShardEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers[shard.key()] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *regionStore) arnForStream(streamName string) string {
	return s.arnGen.Generate("kinesis", "stream", streamName)
}

func (s *regionStore) resolveStreamName(name, streamARN string) (string, *awserrors.Error) {
	if name != "" {
		return name, nil
	}
	if streamARN != "" {
		_, id := arn.ExtractId(streamARN)
		return id, nil
	}
	return "", awserrors.InvalidArgumentException("Either StreamName or StreamARN must be specified")
}

// getStream requires the stream to merely exist; callers apply whatever
// status precondition their operation needs on top of this.
func (s *regionStore) getStream(name string) (*Stream, *awserrors.Error) {
	stream, ok := s.streams[name]
	if !ok {
		return nil, awserrors.ResourceNotFoundException(
			fmt.Sprintf("Stream %s under account %s not found.", name, s.accountId))
	}
	return stream, nil
}

func (s *regionStore) requireActive(stream *Stream) *awserrors.Error {
	if stream.Status != StreamStatusActive {
		return awserrors.ResourceInUseException(
			fmt.Sprintf("Stream %s is in status %s, should be ACTIVE to perform this operation", stream.Name, stream.Status))
	}
	return nil
}

func (s *regionStore) requireNotDeleting(stream *Stream) *awserrors.Error {
	if stream.Status == StreamStatusDeleting {
		return awserrors.ResourceNotFoundException(
			fmt.Sprintf("Stream %s under account %s not found.", stream.Name, s.accountId))
	}
	return nil
}

// totalOpenShards counts every open shard across every non-deleted stream
// in the region, for the per-account shard-limit invariant.
func (s *regionStore) totalOpenShards() int {
	total := 0
	for _, stream := range s.streams {
		total += len(stream.openShards())
	}
	return total
}

// beginUpdate transitions an ACTIVE stream to UPDATING and schedules the
// timer back to ACTIVE. Callers must already hold s.mu and have verified
// the stream was ACTIVE.
func (s *regionStore) beginUpdate(stream *Stream) {
	stream.Status = StreamStatusUpdating
	streamName := stream.Name
	s.scheduler.After(s.updateDuration, func(now time.Time) {
		s.mu.Lock()
		defer s.mu.Unlock()
		st, ok := s.streams[streamName]
		if !ok || st.Status != StreamStatusUpdating {
			return // idempotent: already deleted or already advanced
		}
		st.Status = StreamStatusActive
	})
}
