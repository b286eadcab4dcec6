package kinesis

import (
	"testing"
	"time"
)

func activeStream(t *testing.T, cache *Cache, clock *fakeClock, region, name string, shardCount int64) {
	t.Helper()
	if _, err := cache.CreateStream(region, CreateStreamInput{StreamName: name, ShardCount: shardCount}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	clock.Advance(time.Second)
}

func TestSplitShardProducesTwoChildren(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	listed, err := cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	parentID := listed.Shards[0].ShardId
	parentEnd := listed.Shards[0].HashKeyRange.EndingHashKey

	// Split near the bottom of the range: EndingHashKey is 2^128-1, so "1" is a
	// valid (if lopsided) split point that exercises the boundary code
	// without needing big-int arithmetic in the test itself.
	_, splitErr := cache.SplitShard("us-east-1", SplitShardInput{
		StreamName:         "orders",
		ShardToSplit:       parentID,
		NewStartingHashKey: "1",
	})
	if splitErr != nil {
		t.Fatalf("SplitShard: %v", splitErr)
	}

	listed, err = cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListShards after split: %v", err)
	}
	if len(listed.Shards) != 3 {
		t.Fatalf("expected parent + 2 children = 3 shards, got %d", len(listed.Shards))
	}

	var openCount int
	for _, sh := range listed.Shards {
		if sh.SequenceNumberRange.EndingSequenceNumber == "" {
			openCount++
		}
	}
	if openCount != 2 {
		t.Fatalf("expected 2 open shards after split, got %d", openCount)
	}
	_ = parentEnd
}

func TestSplitShardRejectsUnknownShard(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	_, err := cache.SplitShard("us-east-1", SplitShardInput{
		StreamName:         "orders",
		ShardToSplit:       "shardId-999999999999",
		NewStartingHashKey: "1",
	})
	if err == nil {
		t.Fatal("expected ResourceNotFoundException splitting a nonexistent shard")
	}
}

func TestMergeShardsProducesOneChild(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 2)

	listed, err := cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	if len(listed.Shards) != 2 {
		t.Fatalf("expected 2 initial shards, got %d", len(listed.Shards))
	}

	_, mergeErr := cache.MergeShards("us-east-1", MergeShardsInput{
		StreamName:           "orders",
		ShardToMerge:         listed.Shards[0].ShardId,
		AdjacentShardToMerge: listed.Shards[1].ShardId,
	})
	if mergeErr != nil {
		t.Fatalf("MergeShards: %v", mergeErr)
	}

	listed, err = cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListShards after merge: %v", err)
	}
	if len(listed.Shards) != 3 {
		t.Fatalf("expected 2 parents + 1 child = 3 shards, got %d", len(listed.Shards))
	}

	var openCount int
	for _, sh := range listed.Shards {
		if sh.SequenceNumberRange.EndingSequenceNumber == "" {
			openCount++
		}
	}
	if openCount != 1 {
		t.Fatalf("expected exactly 1 open shard after merge, got %d", openCount)
	}
}

func TestUpdateShardCountRejectsOnDemandStream(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	if _, err := cache.CreateStream("us-east-1", CreateStreamInput{
		StreamName:        "orders",
		StreamModeDetails: &APIStreamModeDetails{StreamMode: "ON_DEMAND"},
	}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	clock.Advance(time.Second)

	_, err := cache.UpdateShardCount("us-east-1", UpdateShardCountInput{
		StreamName:       "orders",
		TargetShardCount: 4,
	})
	if err == nil {
		t.Fatal("expected UpdateShardCount to be rejected for an ON_DEMAND stream")
	}
}

func TestUpdateShardCountRejectsOutOfBoundsTarget(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 4)

	// current=4: valid target range is [2, 8]. 9 exceeds the double bound.
	if _, err := cache.UpdateShardCount("us-east-1", UpdateShardCountInput{
		StreamName:       "orders",
		TargetShardCount: 9,
	}); err == nil {
		t.Fatal("expected UpdateShardCount to reject a target more than double the current shard count")
	}

	// 1 is below the halve bound (2).
	if _, err := cache.UpdateShardCount("us-east-1", UpdateShardCountInput{
		StreamName:       "orders",
		TargetShardCount: 1,
	}); err == nil {
		t.Fatal("expected UpdateShardCount to reject a target less than half the current shard count")
	}
}

func TestUpdateShardCountReplacesOpenShards(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 2)

	out, err := cache.UpdateShardCount("us-east-1", UpdateShardCountInput{
		StreamName:       "orders",
		TargetShardCount: 4,
	})
	if err != nil {
		t.Fatalf("UpdateShardCount: %v", err)
	}
	if out.CurrentShardCount != 2 || out.TargetShardCount != 4 {
		t.Fatalf("unexpected shard counts: %+v", out)
	}

	listed, err := cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders", ShardFilter: &APIShardFilter{Type: "AT_LATEST"}})
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	if len(listed.Shards) != 4 {
		t.Fatalf("expected 4 open shards after UpdateShardCount, got %d", len(listed.Shards))
	}
	for _, sh := range listed.Shards {
		if sh.ParentShardId == "" {
			t.Fatalf("expected every new shard to reference a closed parent, got %+v", sh)
		}
	}

	all, err := cache.ListShards("us-east-1", ListShardsInput{StreamName: "orders"})
	if err != nil {
		t.Fatalf("ListShards (all): %v", err)
	}
	closedIDs := make(map[string]bool)
	for _, sh := range all.Shards {
		if sh.SequenceNumberRange.EndingSequenceNumber != "" {
			closedIDs[sh.ShardId] = true
		}
	}
	for _, sh := range listed.Shards {
		if !closedIDs[sh.ParentShardId] {
			t.Fatalf("ParentShardId %q does not reference one of the shards closed by this update", sh.ParentShardId)
		}
	}
}
