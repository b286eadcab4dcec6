package kinesis

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/maps"

	"kinesisbox/arn"
	"kinesisbox/awserrors"
)

func timeFromFloatSeconds(seconds float64) time.Time {
	return time.UnixMilli(int64(seconds * 1000))
}

// subscribeToShardEvent is the internal form fanned out to a shard's live
// SubscribeToShard subscribers. The HTTP boundary (C10) translates each one
// into a wire SubscribeToShardEvent as it's written to the response stream.
// terminal marks a shard that just closed (split/merge), telling the
// subscriber to re-describe and move on to its child shards.
type subscribeToShardEvent struct {
	records  []Record
	terminal bool
}

const subscriberChanBuffer = 16

func (s *regionStore) RegisterStreamConsumer(input RegisterStreamConsumerInput) (*RegisterStreamConsumerOutput, *awserrors.Error) {
	v := &fieldValidator{}
	v.requireConsumerName(input.ConsumerName)
	if err := v.err(); err != nil {
		return nil, err
	}

	_, streamName := arn.ExtractId(input.StreamARN)

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.getStream(streamName)
	if err != nil {
		return nil, err
	}
	if _, exists := stream.Consumers[input.ConsumerName]; exists {
		return nil, awserrors.ResourceInUseException(fmt.Sprintf(
			"Consumer %s already registered for stream %s", input.ConsumerName, streamName))
	}

	v2 := &fieldValidator{}
	v2.requireConsumerCount(len(stream.Consumers))
	if err := v2.err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	consumerARN := s.arnGen.Generate("kinesis",
		fmt.Sprintf("stream/%s/consumer", streamName),
		fmt.Sprintf("%s:%d", input.ConsumerName, now.Unix()))

	consumer := &Consumer{
		Name:              input.ConsumerName,
		ARN:               consumerARN,
		StreamARN:         stream.ARN,
		StreamName:        streamName,
		Status:            ConsumerStatusCreating,
		CreationTimestamp: now,
	}
	stream.Consumers[input.ConsumerName] = consumer
	s.consumersByARN[consumerARN] = consumer

	s.scheduler.After(s.createDuration, func(now time.Time) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if consumer.Status == ConsumerStatusCreating {
			consumer.Status = ConsumerStatusActive
		}
	})

	return &RegisterStreamConsumerOutput{Consumer: toAPIConsumer(consumer)}, nil
}

func (s *regionStore) resolveConsumer(name, streamARN, consumerARN string) (*Consumer, *awserrors.Error) {
	if consumerARN != "" {
		c, ok := s.consumersByARN[consumerARN]
		if !ok {
			return nil, awserrors.ResourceNotFoundException(fmt.Sprintf("Consumer %s not found", consumerARN))
		}
		return c, nil
	}

	_, streamName := arn.ExtractId(streamARN)
	stream, err := s.getStream(streamName)
	if err != nil {
		return nil, err
	}
	c, ok := stream.Consumers[name]
	if !ok {
		return nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Consumer %s not found for stream %s", name, streamName))
	}
	return c, nil
}

func (s *regionStore) DeregisterStreamConsumer(input DeregisterStreamConsumerInput) (*DeregisterStreamConsumerOutput, *awserrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumer, err := s.resolveConsumer(input.ConsumerName, input.StreamARN, input.ConsumerARN)
	if err != nil {
		return nil, err
	}

	consumer.Status = ConsumerStatusDeleting
	consumerARN := consumer.ARN
	streamName := consumer.StreamName
	s.scheduler.After(s.deleteDuration, func(now time.Time) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.consumersByARN, consumerARN)
		if stream, ok := s.streams[streamName]; ok {
			delete(stream.Consumers, consumer.Name)
		}
	})

	return &DeregisterStreamConsumerOutput{}, nil
}

func (s *regionStore) DescribeStreamConsumer(input DescribeStreamConsumerInput) (*DescribeStreamConsumerOutput, *awserrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumer, err := s.resolveConsumer(input.ConsumerName, input.StreamARN, input.ConsumerARN)
	if err != nil {
		return nil, err
	}
	stream, err := s.getStream(consumer.StreamName)
	if err != nil {
		return nil, err
	}
	if err := s.requireNotDeleting(stream); err != nil {
		return nil, err
	}

	return &DescribeStreamConsumerOutput{
		ConsumerDescription: APIConsumerDescription{
			ConsumerName:              consumer.Name,
			ConsumerARN:               consumer.ARN,
			ConsumerStatus:            string(consumer.Status),
			ConsumerCreationTimestamp: consumer.CreationTimestamp.Unix(),
			StreamARN:                 consumer.StreamARN,
		},
	}, nil
}

func (s *regionStore) ListStreamConsumers(input ListStreamConsumersInput) (*ListStreamConsumersOutput, *awserrors.Error) {
	_, streamName := arn.ExtractId(input.StreamARN)

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.getStream(streamName)
	if err != nil {
		return nil, err
	}
	if err := s.requireNotDeleting(stream); err != nil {
		return nil, err
	}

	names := maps.Keys(stream.Consumers)
	sort.Strings(names)

	startIdx := 0
	if input.NextToken != "" {
		for i, n := range names {
			if n == input.NextToken {
				startIdx = i + 1
				break
			}
		}
	}
	limit := int(input.MaxResults)
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	end := startIdx + limit
	var nextToken string
	if end < len(names) {
		nextToken = names[end-1]
	}
	if end > len(names) {
		end = len(names)
	}

	consumers := make([]APIConsumer, 0, end-startIdx)
	for _, n := range names[startIdx:end] {
		consumers = append(consumers, toAPIConsumer(stream.Consumers[n]))
	}

	return &ListStreamConsumersOutput{Consumers: consumers, NextToken: nextToken}, nil
}

func toAPIConsumer(c *Consumer) APIConsumer {
	return APIConsumer{
		ConsumerName:              c.Name,
		ConsumerARN:               c.ARN,
		ConsumerStatus:            string(c.Status),
		ConsumerCreationTimestamp: c.CreationTimestamp.Unix(),
	}
}

// SubscribeToShard opens an enhanced-fan-out subscription: it replays
// everything at or after the requested starting position already on the
// shard as one backlog batch, then hands the caller a channel that
// receives one subscribeToShardEvent per future PutRecord/PutRecords call
// (or a terminal event if the shard closes). The returned cancel func must
// be called exactly once, whether or not the subscription is drained.
func (s *regionStore) SubscribeToShard(input SubscribeToShardInput) (<-chan subscribeToShardEvent, func(), *awserrors.Error) {
	s.mu.Lock()

	consumer, err := s.resolveConsumer("", "", input.ConsumerARN)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	if consumer.Status != ConsumerStatusActive {
		s.mu.Unlock()
		return nil, nil, awserrors.ResourceInUseException(fmt.Sprintf(
			"Consumer %s is in status %s, should be ACTIVE", consumer.Name, consumer.Status))
	}

	stream, err := s.getStream(consumer.StreamName)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	shard := stream.shardByID(input.ShardId)
	if shard == nil {
		s.mu.Unlock()
		return nil, nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Shard %s not found in stream %s", input.ShardId, stream.Name))
	}

	startIdx, posErr := startingRecordIndex(shard, input.StartingPosition)
	if posErr != nil {
		s.mu.Unlock()
		return nil, nil, posErr
	}

	backlog := append([]Record(nil), shard.Records[startIdx:]...)
	wasClosed := !shard.isOpen()

	ch := make(chan subscribeToShardEvent, subscriberChanBuffer)
	cancel := s.subscribe(shard, ch)
	s.mu.Unlock()

	if len(backlog) > 0 {
		select {
		case ch <- subscribeToShardEvent{records: backlog}:
		default:
		}
	}
	if wasClosed {
		select {
		case ch <- subscribeToShardEvent{terminal: true}:
		default:
		}
	}

	return ch, cancel, nil
}

func startingRecordIndex(shard *Shard, pos APIStartingPosition) (int, *awserrors.Error) {
	switch pos.Type {
	case "TRIM_HORIZON":
		return 0, nil
	case "LATEST":
		return len(shard.Records), nil
	case "AT_SEQUENCE_NUMBER", "AFTER_SEQUENCE_NUMBER":
		idx, err := recordIndexFor(shard, pos.SequenceNumber, pos.Type == "AFTER_SEQUENCE_NUMBER")
		if err != nil {
			return 0, awserrors.InvalidArgumentException(err.Error())
		}
		return idx, nil
	case "AT_TIMESTAMP":
		cutoff := timeFromFloatSeconds(pos.Timestamp)
		seqNum := shard.sequenceNumberAtOrAfter(cutoff)
		idx, err := recordIndexFor(shard, seqNum, false)
		if err != nil {
			return 0, awserrors.InvalidArgumentException(err.Error())
		}
		return idx, nil
	default:
		return 0, awserrors.ValidationException(fmt.Sprintf(
			"StartingPosition.Type %q is not a recognized value", pos.Type))
	}
}
