package kinesis

import (
	"fmt"
	"math/big"
	"time"

	"kinesisbox/awserrors"
	"kinesisbox/services/kinesis/sequence"
	"kinesisbox/services/kinesis/shardmath"
)

func (s *regionStore) ListShards(input ListShardsInput) (*ListShardsOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.getStream(name)
	if err != nil {
		return nil, err
	}
	if err := s.requireNotDeleting(stream); err != nil {
		return nil, err
	}

	shards := stream.Shards
	if input.ShardFilter != nil {
		switch input.ShardFilter.Type {
		case "", "AT_LATEST":
			shards = stream.openShards()
		case "FROM_TIMESTAMP", "AT_TIMESTAMP":
			cutoff := time.UnixMilli(input.ShardFilter.Timestamp)
			var filtered []*Shard
			for _, sh := range stream.Shards {
				if sh.isOpen() || !sh.CreatedAt.After(cutoff) {
					filtered = append(filtered, sh)
				}
			}
			shards = filtered
		}
	}

	startIdx := 0
	if input.ExclusiveStartShardId != "" {
		for i, sh := range shards {
			if sh.ShardId == input.ExclusiveStartShardId {
				startIdx = i + 1
				break
			}
		}
	}
	limit := int(input.MaxResults)
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	end := startIdx + limit
	var nextToken string
	if end < len(shards) {
		nextToken = shards[end-1].ShardId
	}
	if end > len(shards) {
		end = len(shards)
	}

	apiShards := make([]APIShard, 0, end-startIdx)
	for _, sh := range shards[startIdx:end] {
		apiShards = append(apiShards, toAPIShard(sh))
	}

	return &ListShardsOutput{Shards: apiShards, NextToken: nextToken}, nil
}

func (s *regionStore) SplitShard(input SplitShardInput) (*SplitShardOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
	}

	mid, ok := new(big.Int).SetString(input.NewStartingHashKey, 10)
	if !ok || mid.Sign() < 0 {
		return nil, awserrors.ValidationException(fmt.Sprintf(
			"NewStartingHashKey %q is not a valid hash key", input.NewStartingHashKey))
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

	parent := stream.shardByID(input.ShardToSplit)
	if parent == nil || !parent.isOpen() {
		return nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Could not find shard %s in ACTIVE state for stream %s", input.ShardToSplit, name))
	}

	if len(stream.openShards())+1 > s.limits.MaxShardsPerStream {
		return nil, awserrors.LimitExceededException("This request would exceed the maximum shards per stream")
	}
	if s.totalOpenShards()+1 > s.limits.ShardLimitPerAccount {
		return nil, awserrors.LimitExceededException("This request would exceed the shard limit for the account")
	}

	leftRange, rightRange, splitErr := shardmath.Split(parent.HashKeyRange, mid)
	if splitErr != nil {
		return nil, awserrors.InvalidArgumentException(splitErr.Error())
	}

	now := s.clock.Now()
	endingSeq := stream.closeShardAt(parent, now)

	left := newChildShard(stream, leftRange, parent.ShardId, "", now)
	right := newChildShard(stream, rightRange, parent.ShardId, "", now)
	stream.Shards = append(stream.Shards, left, right)
	stream.recordShardCount(now)

	s.publish(parent, subscribeToShardEvent{terminal: true})
	_ = endingSeq

	s.beginUpdate(stream)
	return &SplitShardOutput{}, nil
}

func (s *regionStore) MergeShards(input MergeShardsInput) (*MergeShardsOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
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

	a := stream.shardByID(input.ShardToMerge)
	b := stream.shardByID(input.AdjacentShardToMerge)
	if a == nil || !a.isOpen() || b == nil || !b.isOpen() {
		return nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Could not find both shards %s and %s in ACTIVE state for stream %s",
			input.ShardToMerge, input.AdjacentShardToMerge, name))
	}

	merged, mergeErr := shardmath.Merge(a.HashKeyRange, b.HashKeyRange)
	if mergeErr != nil {
		return nil, awserrors.InvalidArgumentException(mergeErr.Error())
	}

	now := s.clock.Now()
	stream.closeShardAt(a, now)
	stream.closeShardAt(b, now)

	child := newChildShard(stream, merged, a.ShardId, b.ShardId, now)
	stream.Shards = append(stream.Shards, child)
	stream.recordShardCount(now)

	s.publish(a, subscribeToShardEvent{terminal: true})
	s.publish(b, subscribeToShardEvent{terminal: true})

	s.beginUpdate(stream)
	return &MergeShardsOutput{}, nil
}

func (s *regionStore) UpdateShardCount(input UpdateShardCountInput) (*UpdateShardCountOutput, *awserrors.Error) {
	name, verr := s.resolveStreamName(input.StreamName, input.StreamARN)
	if verr != nil {
		return nil, verr
	}

	v := &fieldValidator{}
	v.requireShardCount(int64(input.TargetShardCount), s.limits.MaxShardsPerStream)
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
	if stream.Mode != StreamModeProvisioned {
		return nil, awserrors.ValidationException(fmt.Sprintf(
			"UpdateShardCount is only valid for PROVISIONED streams, stream %s is %s", name, stream.Mode))
	}

	current := len(stream.openShards())
	target := int(input.TargetShardCount)
	minTarget := current / 2
	if minTarget < 1 {
		minTarget = 1
	}
	maxTarget := current * 2
	if maxTarget > s.limits.MaxShardsPerStream {
		maxTarget = s.limits.MaxShardsPerStream
	}
	if target < minTarget || target > maxTarget {
		return nil, awserrors.ValidationException(fmt.Sprintf(
			"TargetShardCount %d must be between %d and %d given the current shard count of %d",
			target, minTarget, maxTarget, current))
	}
	if s.totalOpenShards()-current+target > s.limits.ShardLimitPerAccount {
		return nil, awserrors.LimitExceededException("This request would exceed the shard limit for the account")
	}

	now := s.clock.Now()
	oldOpen := stream.openShards()
	for _, sh := range oldOpen {
		stream.closeShardAt(sh, now)
	}
	newRanges := shardmath.EvenRanges(int64(target))
	for _, r := range newRanges {
		parentID, adjacentParentID := overlappingParents(oldOpen, r)
		stream.Shards = append(stream.Shards, &Shard{
			StreamName:             stream.Name,
			ShardId:                shardID(stream.NextShardIndex),
			Index:                  stream.NextShardIndex,
			HashKeyRange:           r,
			CreatedAt:              now,
			StartingSequenceNumber: startingSequenceNumber(stream.NextShardIndex, now),
			ParentShardId:          parentID,
			AdjacentParentShardId:  adjacentParentID,
		})
		stream.NextShardIndex++
	}
	stream.recordShardCount(now)

	s.beginUpdate(stream)
	return &UpdateShardCountOutput{
		StreamName:        stream.Name,
		StreamARN:         stream.ARN,
		CurrentShardCount: int32(current),
		TargetShardCount:  int32(target),
	}, nil
}

// closeShardAt seals sh with a sequence number one past everything ever
// appended to it and returns that sequence number.
func (s *Stream) closeShardAt(sh *Shard, now time.Time) string {
	ending := sequence.Number{
		ShardCreationDate: uint64(sh.CreatedAt.Unix()),
		ShardIndex:        uint32(sh.Index),
		ByteOffset:        sh.NextByteOffset,
		SubSequence:       sh.NextSubSequence,
	}.Encode()
	sh.close(ending)
	return ending
}

// overlappingParents returns the ShardId(s) of the closed shards in
// oldShards whose hash-key range overlaps r, in the same ParentShardId /
// AdjacentParentShardId shape SplitShard and MergeShards already produce.
// UpdateShardCount can fold more than two old shards into one new range
// when shrinking a lot in one call; only the first and last overlapping
// parent are recorded, matching the two-parent limit the wire shape allows.
func overlappingParents(oldShards []*Shard, r shardmath.HashKeyRange) (parentID, adjacentParentID string) {
	var parents []string
	for _, sh := range oldShards {
		if sh.HashKeyRange.Start.Cmp(r.End) > 0 || sh.HashKeyRange.End.Cmp(r.Start) < 0 {
			continue
		}
		parents = append(parents, sh.ShardId)
	}
	if len(parents) > 0 {
		parentID = parents[0]
	}
	if len(parents) > 1 {
		adjacentParentID = parents[len(parents)-1]
	}
	return parentID, adjacentParentID
}

func newChildShard(stream *Stream, r shardmath.HashKeyRange, parentID, adjacentParentID string, now time.Time) *Shard {
	index := stream.NextShardIndex
	stream.NextShardIndex++
	return &Shard{
		StreamName:             stream.Name,
		ShardId:                shardID(index),
		Index:                  index,
		HashKeyRange:           r,
		CreatedAt:              now,
		StartingSequenceNumber: startingSequenceNumber(index, now),
		ParentShardId:          parentID,
		AdjacentParentShardId:  adjacentParentID,
	}
}
