package kinesis

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"time"

	"kinesisbox/awserrors"
	"kinesisbox/services/kinesis/sequence"
)

const (
	shardMaxBytesPerSecond   = 1 << 20
	shardMaxRecordsPerSecond = 1000
	throughputWindow         = time.Second
)

func hashKeyForPartitionKey(partitionKey string) *big.Int {
	sum := md5.Sum([]byte(partitionKey))
	return new(big.Int).SetBytes(sum[:])
}

func (stream *Stream) shardForHashKey(hash *big.Int) *Shard {
	for _, sh := range stream.openShards() {
		if sh.HashKeyRange.Contains(hash) {
			return sh
		}
	}
	return nil
}

// checkAndConsumeThroughput enforces the shard's 1MB/s, 1000 records/s
// write quota using a rolling window that resets lazily once at least
// throughputWindow has elapsed since it was opened, rather than via a
// separate scheduled rollover: writes are bursty and infrequent enough on
// an emulator that a background timer per shard would be pure overhead.
func (sh *Shard) checkAndConsumeThroughput(now time.Time, size int64) *awserrors.Error {
	if now.Sub(sh.ThroughputWindowStart) >= throughputWindow {
		sh.ThroughputWindowStart = now
		sh.ThroughputBytesUsed = 0
		sh.ThroughputRecordsUsed = 0
	}
	if sh.ThroughputBytesUsed+size > shardMaxBytesPerSecond {
		return awserrors.ProvisionedThroughputExceededException(fmt.Sprintf(
			"Rate exceeded for shard %s: exceeds the %d bytes/second write limit", sh.ShardId, shardMaxBytesPerSecond))
	}
	if sh.ThroughputRecordsUsed+1 > shardMaxRecordsPerSecond {
		return awserrors.ProvisionedThroughputExceededException(fmt.Sprintf(
			"Rate exceeded for shard %s: exceeds the %d records/second write limit", sh.ShardId, shardMaxRecordsPerSecond))
	}
	sh.ThroughputBytesUsed += size
	sh.ThroughputRecordsUsed++
	return nil
}

func (s *regionStore) PutRecord(input PutRecordInput) (*PutRecordOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
	}

	v := &fieldValidator{}
	v.requirePartitionKey(input.PartitionKey)
	v.requireDataSize(input.Data)
	if err := v.err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.getStream(name)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(stream); err != nil {
		return nil, err
	}

	hash, hashErr := resolveHashKey(input.PartitionKey, input.ExplicitHashKey)
	if hashErr != nil {
		return nil, hashErr
	}
	shard := stream.shardForHashKey(hash)
	if shard == nil {
		return nil, awserrors.InternalFailure("no open shard covers the computed hash key")
	}

	now := s.clock.Now()
	if err := shard.checkAndConsumeThroughput(now, int64(len(input.Data))); err != nil {
		return nil, err
	}

	record := appendRecord(shard, input.Data, input.PartitionKey, hash, now)
	s.publish(shard, subscribeToShardEvent{records: []Record{record}})

	return &PutRecordOutput{
		ShardId:        shard.ShardId,
		SequenceNumber: record.SequenceNumber,
		EncryptionType: string(stream.EncryptionType),
	}, nil
}

func resolveHashKey(partitionKey, explicitHashKey string) (*big.Int, *awserrors.Error) {
	if explicitHashKey == "" {
		return hashKeyForPartitionKey(partitionKey), nil
	}
	hash, ok := new(big.Int).SetString(explicitHashKey, 10)
	if !ok || hash.Sign() < 0 {
		return nil, awserrors.InvalidArgumentException(fmt.Sprintf("ExplicitHashKey %q is not valid", explicitHashKey))
	}
	return hash, nil
}

// appendRecord mints a sequence number for a single-record append (always
// a fresh byte offset, SubSequence zero) and records it on the shard.
func appendRecord(shard *Shard, data []byte, partitionKey string, hash *big.Int, now time.Time) Record {
	seqNum := sequence.Number{
		ShardCreationDate: uint64(shard.CreatedAt.Unix()),
		ShardIndex:        uint32(shard.Index),
		ByteOffset:        shard.NextByteOffset,
	}.Encode()

	record := Record{
		Data:                        data,
		PartitionKey:                partitionKey,
		ExplicitHashKey:             hash,
		ApproximateArrivalTimestamp: now,
		SequenceNumber:              seqNum,
	}
	shard.Records = append(shard.Records, record)
	shard.NextByteOffset += uint64(len(data))
	shard.NextSubSequence = 0
	return record
}

func (s *regionStore) PutRecords(input PutRecordsInput) (*PutRecordsOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
	}

	if len(input.Records) == 0 {
		return nil, awserrors.ValidationException("records may not be empty")
	}

	v := &fieldValidator{}
	for i, r := range input.Records {
		if r.PartitionKey == "" || len(r.PartitionKey) > maxPartitionKeyLength {
			v.fail("records.%d.PartitionKey is invalid", i)
		}
		if len(r.Data) == 0 || len(r.Data) > maxDataSizeBytes {
			v.fail("records.%d.Data size is invalid", i)
		}
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.getStream(name)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(stream); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	results := make([]APIPutRecordsResultEntry, len(input.Records))
	// A PutRecords call shares one byte offset per target shard across the
	// whole batch, the way a real producer's aggregated put does: records
	// landing on the same shard in one call get SubSequence 0,1,2,... at
	// that shared offset, and only the shard's NextByteOffset advances once
	// the batch finishes, by the sum of everything that landed there.
	byteOffsetByShard := make(map[string]uint64)
	batchBytesByShard := make(map[string]int64)
	subSeqByShard := make(map[string]uint32)
	publishByShard := make(map[string][]Record)

	var failedCount int32
	for i, entry := range input.Records {
		hash, hashErr := resolveHashKey(entry.PartitionKey, entry.ExplicitHashKey)
		if hashErr != nil {
			results[i] = APIPutRecordsResultEntry{ErrorCode: "InvalidArgumentException", ErrorMessage: hashErr.Body.Message}
			failedCount++
			continue
		}
		shard := stream.shardForHashKey(hash)
		if shard == nil {
			results[i] = APIPutRecordsResultEntry{ErrorCode: "InternalFailure", ErrorMessage: "no open shard covers the computed hash key"}
			failedCount++
			continue
		}

		if err := shard.checkAndConsumeThroughput(now, int64(len(entry.Data))); err != nil {
			results[i] = APIPutRecordsResultEntry{ErrorCode: err.Body.Type, ErrorMessage: err.Body.Message}
			failedCount++
			continue
		}

		if _, seen := byteOffsetByShard[shard.ShardId]; !seen {
			byteOffsetByShard[shard.ShardId] = shard.NextByteOffset
		}
		subSeq := subSeqByShard[shard.ShardId]
		subSeqByShard[shard.ShardId] = subSeq + 1

		seqNum := sequence.Number{
			ShardCreationDate: uint64(shard.CreatedAt.Unix()),
			ShardIndex:        uint32(shard.Index),
			ByteOffset:        byteOffsetByShard[shard.ShardId],
			SubSequence:       subSeq,
		}.Encode()

		record := Record{
			Data:                        entry.Data,
			PartitionKey:                entry.PartitionKey,
			ExplicitHashKey:             hash,
			ApproximateArrivalTimestamp: now,
			SequenceNumber:              seqNum,
		}
		shard.Records = append(shard.Records, record)
		batchBytesByShard[shard.ShardId] += int64(len(entry.Data))
		publishByShard[shard.ShardId] = append(publishByShard[shard.ShardId], record)

		results[i] = APIPutRecordsResultEntry{ShardId: shard.ShardId, SequenceNumber: seqNum}
	}

	for _, sh := range stream.Shards {
		if bytes, ok := batchBytesByShard[sh.ShardId]; ok {
			sh.NextByteOffset += uint64(bytes)
			sh.NextSubSequence = subSeqByShard[sh.ShardId]
		}
		if records, ok := publishByShard[sh.ShardId]; ok {
			s.publish(sh, subscribeToShardEvent{records: records})
		}
	}

	return &PutRecordsOutput{
		FailedRecordCount: failedCount,
		Records:           results,
		EncryptionType:    string(stream.EncryptionType),
	}, nil
}
