package kinesis

import (
	"testing"
	"time"
)

func newTestCache(clock *fakeClock) *Cache {
	return New(Options{
		Clock:                clock,
		AwsAccountId:         "000000000000",
		DefaultRegion:        "us-east-1",
		StreamCreateDuration: time.Second,
		StreamDeleteDuration: time.Second,
		StreamUpdateDuration: time.Second,
		DefaultRetention:     24 * time.Hour,
	})
}

func TestCreateStreamStartsCreatingThenBecomesActive(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	cache := newTestCache(clock)

	if _, err := cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 2}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	out, err := cache.DescribeStreamSummary("us-east-1", DescribeStreamSummaryInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("DescribeStreamSummary: %v", err)
	}
	if out.StreamDescriptionSummary.StreamStatus != "CREATING" {
		t.Fatalf("expected CREATING, got %s", out.StreamDescriptionSummary.StreamStatus)
	}
	if out.StreamDescriptionSummary.OpenShardCount != 2 {
		t.Fatalf("expected 2 open shards, got %d", out.StreamDescriptionSummary.OpenShardCount)
	}

	clock.Advance(time.Second)

	out, err = cache.DescribeStreamSummary("us-east-1", DescribeStreamSummaryInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("DescribeStreamSummary after advance: %v", err)
	}
	if out.StreamDescriptionSummary.StreamStatus != "ACTIVE" {
		t.Fatalf("expected ACTIVE after advancing clock, got %s", out.StreamDescriptionSummary.StreamStatus)
	}
}

func TestCreateStreamDuplicateNameRejected(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)

	if _, err := cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	_, err := cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})
	if err == nil {
		t.Fatal("expected ResourceInUseException for duplicate stream name")
	}
}

func TestCreateStreamValidatesShardCount(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)

	_, err := cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 0})
	if err == nil {
		t.Fatal("expected ValidationException for zero shard count")
	}
}

func TestDeleteStreamTransitionsThenRemoves(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)

	cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})
	clock.Advance(time.Second)

	if _, err := cache.DeleteStream("us-east-1", DeleteStreamInput{StreamName: "orders"}); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}

	out, err := cache.DescribeStreamSummary("us-east-1", DescribeStreamSummaryInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("DescribeStreamSummary while deleting: %v", err)
	}
	if out.StreamDescriptionSummary.StreamStatus != "DELETING" {
		t.Fatalf("expected DELETING, got %s", out.StreamDescriptionSummary.StreamStatus)
	}

	clock.Advance(time.Second)

	if _, err := cache.DescribeStreamSummary("us-east-1", DescribeStreamSummaryInput{StreamName: "orders"}); err == nil {
		t.Fatal("expected ResourceNotFoundException after stream fully deletes")
	}
}

func TestRetentionPeriodMustStrictlyChange(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})

	if _, err := cache.IncreaseStreamRetentionPeriod("us-east-1", IncreaseStreamRetentionPeriodInput{
		StreamName: "orders", RetentionPeriodHours: 48,
	}); err != nil {
		t.Fatalf("IncreaseStreamRetentionPeriod: %v", err)
	}

	if _, err := cache.IncreaseStreamRetentionPeriod("us-east-1", IncreaseStreamRetentionPeriodInput{
		StreamName: "orders", RetentionPeriodHours: 24,
	}); err == nil {
		t.Fatal("expected failure increasing to a lower retention period")
	}

	if _, err := cache.DecreaseStreamRetentionPeriod("us-east-1", DecreaseStreamRetentionPeriodInput{
		StreamName: "orders", RetentionPeriodHours: 36,
	}); err != nil {
		t.Fatalf("DecreaseStreamRetentionPeriod: %v", err)
	}
}

func TestTagLifecycle(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})

	if _, err := cache.AddTagsToStream("us-east-1", AddTagsToStreamInput{
		StreamName: "orders", Tags: map[string]string{"env": "prod"},
	}); err != nil {
		t.Fatalf("AddTagsToStream: %v", err)
	}

	out, err := cache.ListTagsForStream("us-east-1", ListTagsForStreamInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListTagsForStream: %v", err)
	}
	if len(out.Tags) != 1 || out.Tags[0].Key != "env" || out.Tags[0].Value != "prod" {
		t.Fatalf("unexpected tags: %+v", out.Tags)
	}

	if _, err := cache.RemoveTagsFromStream("us-east-1", RemoveTagsFromStreamInput{
		StreamName: "orders", TagKeys: []string{"env"},
	}); err != nil {
		t.Fatalf("RemoveTagsFromStream: %v", err)
	}

	out, err = cache.ListTagsForStream("us-east-1", ListTagsForStreamInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListTagsForStream after remove: %v", err)
	}
	if len(out.Tags) != 0 {
		t.Fatalf("expected no tags after removal, got %+v", out.Tags)
	}
}

func TestReadOperationsRejectDeletingStream(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	if _, err := cache.DeleteStream("us-east-1", DeleteStreamInput{StreamName: "orders"}); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	// Do not advance the clock: the stream is still DELETING.

	if _, err := cache.DescribeStream("us-east-1", DescribeStreamInput{StreamName: "orders"}); err == nil {
		t.Fatal("expected DescribeStream to reject a DELETING stream")
	}
	if _, err := cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"}); err == nil {
		t.Fatal("expected ListShards to reject a DELETING stream")
	}
	if _, err := cache.ListTagsForStream("us-east-1", ListTagsForStreamInput{StreamName: "orders"}); err == nil {
		t.Fatal("expected ListTagsForStream to reject a DELETING stream")
	}

	// DescribeStreamSummary is explicitly exempt: it must keep working on
	// any status, including DELETING, so callers can observe the deletion
	// in progress.
	out, err := cache.DescribeStreamSummary("us-east-1", DescribeStreamSummaryInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("DescribeStreamSummary should still succeed on a DELETING stream: %v", err)
	}
	if out.StreamDescriptionSummary.StreamStatus != "DELETING" {
		t.Fatalf("expected DELETING status, got %s", out.StreamDescriptionSummary.StreamStatus)
	}
}

func TestRetentionGCPurgesExpiredRecords(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	putOut, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: []byte("x"), PartitionKey: "k",
	})
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	store := cache.storeFor("us-east-1")
	store.mu.Lock()
	stream := store.streams["orders"]
	stream.RetentionPeriod = time.Minute
	shard := stream.shardByID(putOut.ShardId)
	if len(shard.Records) != 1 {
		store.mu.Unlock()
		t.Fatalf("expected 1 record before GC, got %d", len(shard.Records))
	}
	store.mu.Unlock()

	// The first sweep finds the record exactly at the retention boundary
	// (not yet expired); the second, a full interval later, finds it aged
	// past RetentionPeriod and purges it.
	clock.Advance(retentionGCInterval)
	clock.Advance(retentionGCInterval)

	store.mu.Lock()
	remaining := len(shard.Records)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected retention GC to purge the expired record, got %d remaining", remaining)
	}
}

func TestRegionsAreIsolated(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)

	cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})

	if _, err := cache.DescribeStreamSummary("us-west-2", DescribeStreamSummaryInput{StreamName: "orders"}); err == nil {
		t.Fatal("expected stream created in us-east-1 to be invisible from us-west-2")
	}
}
