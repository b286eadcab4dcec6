package kinesis

import (
	"testing"
	"time"

	"kinesisbox/services/kinesis/sequence"
)

func TestPutRecordThenGetRecordsRoundTrips(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	putOut, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName:   "orders",
		Data:         []byte("hello"),
		PartitionKey: "customer-1",
	})
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	iterOut, err := cache.GetShardIterator("us-east-1", GetShardIteratorInput{
		StreamName:        "orders",
		ShardId:           putOut.ShardId,
		ShardIteratorType: "TRIM_HORIZON",
	})
	if err != nil {
		t.Fatalf("GetShardIterator: %v", err)
	}

	recOut, err := cache.GetRecords("us-east-1", GetRecordsInput{ShardIterator: iterOut.ShardIterator})
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(recOut.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recOut.Records))
	}
	if string(recOut.Records[0].Data) != "hello" {
		t.Fatalf("unexpected record data: %q", recOut.Records[0].Data)
	}
	if recOut.Records[0].SequenceNumber != putOut.SequenceNumber {
		t.Fatalf("sequence number mismatch: got %s want %s", recOut.Records[0].SequenceNumber, putOut.SequenceNumber)
	}
}

func TestGetRecordsAfterSequenceNumberExcludesIt(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	var last *PutRecordOutput
	for i := 0; i < 3; i++ {
		out, err := cache.PutRecord("us-east-1", PutRecordInput{
			StreamName:   "orders",
			Data:         []byte("x"),
			PartitionKey: "k",
		})
		if err != nil {
			t.Fatalf("PutRecord #%d: %v", i, err)
		}
		last = out
	}

	iterOut, err := cache.GetShardIterator("us-east-1", GetShardIteratorInput{
		StreamName:             "orders",
		ShardId:                last.ShardId,
		ShardIteratorType:      "AFTER_SEQUENCE_NUMBER",
		StartingSequenceNumber: last.SequenceNumber,
	})
	if err != nil {
		t.Fatalf("GetShardIterator: %v", err)
	}

	recOut, err := cache.GetRecords("us-east-1", GetRecordsInput{ShardIterator: iterOut.ShardIterator})
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(recOut.Records) != 0 {
		t.Fatalf("expected no records after the last sequence number, got %d", len(recOut.Records))
	}
}

func TestPutRecordsSharesByteOffsetWithinBatch(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	out, err := cache.PutRecords("us-east-1", PutRecordsInput{
		StreamName: "orders",
		Records: []APIPutRecordsRequestEntry{
			{Data: []byte("a"), PartitionKey: "k1"},
			{Data: []byte("b"), PartitionKey: "k2"},
			{Data: []byte("c"), PartitionKey: "k3"},
		},
	})
	if err != nil {
		t.Fatalf("PutRecords: %v", err)
	}
	if out.FailedRecordCount != 0 {
		t.Fatalf("expected no failures, got %d", out.FailedRecordCount)
	}
	if len(out.Records) != 3 {
		t.Fatalf("expected 3 result entries, got %d", len(out.Records))
	}
	for _, r := range out.Records {
		if r.SequenceNumber == "" || r.ShardId == "" {
			t.Fatalf("expected every record to succeed, got %+v", r)
		}
	}

	decoded := make([]uint32, 0, 3)
	for _, r := range out.Records {
		num, decErr := sequence.Decode(r.SequenceNumber)
		if decErr != nil {
			t.Fatalf("sequence.Decode: %v", decErr)
		}
		decoded = append(decoded, num.SubSequence)
	}
	for i, sub := range decoded {
		if uint32(i) != sub {
			t.Fatalf("expected SubSequence %d at index %d, got %d", i, i, sub)
		}
	}
}

func TestPutRecordsPartialSuccessUnderThroughputQuota(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	const recordCount = 600
	const recordSize = 2048 // 2 KiB
	entries := make([]APIPutRecordsRequestEntry, recordCount)
	for i := range entries {
		entries[i] = APIPutRecordsRequestEntry{Data: make([]byte, recordSize), PartitionKey: "k"}
	}

	out, err := cache.PutRecords("us-east-1", PutRecordsInput{StreamName: "orders", Records: entries})
	if err != nil {
		t.Fatalf("PutRecords: %v", err)
	}
	if len(out.Records) != recordCount {
		t.Fatalf("expected %d result entries, got %d", recordCount, len(out.Records))
	}
	if out.FailedRecordCount == 0 {
		t.Fatal("expected some records to fail once the 1MB/s shard quota is exhausted")
	}
	if int(out.FailedRecordCount) >= recordCount {
		t.Fatal("expected a partial success, not every record to fail")
	}

	var successfulBytes int64
	for _, r := range out.Records {
		if r.ErrorCode == "" {
			successfulBytes += recordSize
		} else if r.ErrorCode != "ProvisionedThroughputExceededException" {
			t.Fatalf("unexpected failure code: %s", r.ErrorCode)
		}
	}
	if successfulBytes > shardMaxBytesPerSecond {
		t.Fatalf("successful bytes %d exceeded the 1MB/s shard quota", successfulBytes)
	}
}

func TestPutRecordEnforcesThroughputQuota(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	big := make([]byte, shardMaxBytesPerSecond)
	if _, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: big, PartitionKey: "k",
	}); err != nil {
		t.Fatalf("first PutRecord: %v", err)
	}

	_, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: []byte("x"), PartitionKey: "k",
	})
	if err == nil {
		t.Fatal("expected ProvisionedThroughputExceededException once the 1MB/s quota is spent")
	}

	clock.Advance(time.Second)

	if _, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: []byte("x"), PartitionKey: "k",
	}); err != nil {
		t.Fatalf("PutRecord after window reset: %v", err)
	}
}

func TestGetRecordsOnClosedExhaustedShardReturnsChildShards(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)
	activeStream(t, cache, clock, "us-east-1", "orders", 1)

	putOut, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: []byte("hello"), PartitionKey: "k",
	})
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	if _, err := cache.SplitShard("us-east-1", SplitShardInput{
		StreamName:         "orders",
		ShardToSplit:       putOut.ShardId,
		NewStartingHashKey: "1",
	}); err != nil {
		t.Fatalf("SplitShard: %v", err)
	}

	iterOut, err := cache.GetShardIterator("us-east-1", GetShardIteratorInput{
		StreamName:        "orders",
		ShardId:           putOut.ShardId,
		ShardIteratorType: "TRIM_HORIZON",
	})
	if err != nil {
		t.Fatalf("GetShardIterator: %v", err)
	}

	// First call drains the one record the closed parent ever held.
	recOut, err := cache.GetRecords("us-east-1", GetRecordsInput{ShardIterator: iterOut.ShardIterator})
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(recOut.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recOut.Records))
	}
	if recOut.NextShardIterator == "" {
		t.Fatal("expected a forward iterator immediately after draining the last record")
	}
	if len(recOut.ChildShards) != 0 {
		t.Fatalf("did not expect ChildShards before the shard is confirmed exhausted, got %+v", recOut.ChildShards)
	}

	// Second call, from the returned iterator, finds nothing left: the
	// parent is closed and exhausted, so it should report ChildShards and
	// a null NextShardIterator instead of handing back another live token.
	recOut2, err := cache.GetRecords("us-east-1", GetRecordsInput{ShardIterator: recOut.NextShardIterator})
	if err != nil {
		t.Fatalf("GetRecords (exhausted): %v", err)
	}
	if len(recOut2.Records) != 0 {
		t.Fatalf("expected no more records, got %d", len(recOut2.Records))
	}
	if recOut2.NextShardIterator != "" {
		t.Fatal("expected a null NextShardIterator for a closed, exhausted shard")
	}
	if len(recOut2.ChildShards) != 2 {
		t.Fatalf("expected 2 child shards reported, got %d", len(recOut2.ChildShards))
	}
}

func TestPutRecordRejectsInactiveStream(t *testing.T) {
	clock := newFakeClock(time.Now())
	cache := newTestCache(clock)

	cache.CreateStream("us-east-1", CreateStreamInput{StreamName: "orders", ShardCount: 1})
	// Do not advance the clock: the stream is still CREATING.

	_, err := cache.PutRecord("us-east-1", PutRecordInput{
		StreamName: "orders", Data: []byte("x"), PartitionKey: "k",
	})
	if err == nil {
		t.Fatal("expected ResourceInUseException while the stream is still CREATING")
	}
}
