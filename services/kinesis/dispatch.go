package kinesis

import "kinesisbox/awserrors"

// This file is the Cache's public operation surface: one thin
// region-resolving wrapper per operation, so callers that aren't going
// through the HTTP boundary (main.go's pre-init, itest black-box tests)
// can still drive the emulator without reaching into regionStore, which
// stays unexported.

func (c *Cache) CreateStream(region string, in CreateStreamInput) (*CreateStreamOutput, *awserrors.Error) {
	return c.storeFor(region).CreateStream(in)
}

func (c *Cache) DeleteStream(region string, in DeleteStreamInput) (*DeleteStreamOutput, *awserrors.Error) {
	return c.storeFor(region).DeleteStream(in)
}

func (c *Cache) DescribeStream(region string, in DescribeStreamInput) (*DescribeStreamOutput, *awserrors.Error) {
	return c.storeFor(region).DescribeStream(in)
}

func (c *Cache) DescribeStreamSummary(region string, in DescribeStreamSummaryInput) (*DescribeStreamSummaryOutput, *awserrors.Error) {
	return c.storeFor(region).DescribeStreamSummary(in)
}

func (c *Cache) ListStreams(region string, in ListStreamsInput) (*ListStreamsOutput, *awserrors.Error) {
	return c.storeFor(region).ListStreams(in)
}

func (c *Cache) ListShards(region string, in ListShardsInput) (*ListShardsOutput, *awserrors.Error) {
	return c.storeFor(region).ListShards(in)
}

func (c *Cache) MergeShards(region string, in MergeShardsInput) (*MergeShardsOutput, *awserrors.Error) {
	return c.storeFor(region).MergeShards(in)
}

func (c *Cache) SplitShard(region string, in SplitShardInput) (*SplitShardOutput, *awserrors.Error) {
	return c.storeFor(region).SplitShard(in)
}

func (c *Cache) UpdateShardCount(region string, in UpdateShardCountInput) (*UpdateShardCountOutput, *awserrors.Error) {
	return c.storeFor(region).UpdateShardCount(in)
}

func (c *Cache) UpdateStreamMode(region string, in UpdateStreamModeInput) (*UpdateStreamModeOutput, *awserrors.Error) {
	return c.storeFor(region).UpdateStreamMode(in)
}

func (c *Cache) IncreaseStreamRetentionPeriod(region string, in IncreaseStreamRetentionPeriodInput) (*IncreaseStreamRetentionPeriodOutput, *awserrors.Error) {
	return c.storeFor(region).IncreaseStreamRetentionPeriod(in)
}

func (c *Cache) DecreaseStreamRetentionPeriod(region string, in DecreaseStreamRetentionPeriodInput) (*DecreaseStreamRetentionPeriodOutput, *awserrors.Error) {
	return c.storeFor(region).DecreaseStreamRetentionPeriod(in)
}

func (c *Cache) AddTagsToStream(region string, in AddTagsToStreamInput) (*AddTagsToStreamOutput, *awserrors.Error) {
	return c.storeFor(region).AddTagsToStream(in)
}

func (c *Cache) RemoveTagsFromStream(region string, in RemoveTagsFromStreamInput) (*RemoveTagsFromStreamOutput, *awserrors.Error) {
	return c.storeFor(region).RemoveTagsFromStream(in)
}

func (c *Cache) ListTagsForStream(region string, in ListTagsForStreamInput) (*ListTagsForStreamOutput, *awserrors.Error) {
	return c.storeFor(region).ListTagsForStream(in)
}

func (c *Cache) StartStreamEncryption(region string, in StartStreamEncryptionInput) (*StartStreamEncryptionOutput, *awserrors.Error) {
	return c.storeFor(region).StartStreamEncryption(in)
}

func (c *Cache) StopStreamEncryption(region string, in StopStreamEncryptionInput) (*StopStreamEncryptionOutput, *awserrors.Error) {
	return c.storeFor(region).StopStreamEncryption(in)
}

func (c *Cache) EnableEnhancedMonitoring(region string, in EnableEnhancedMonitoringInput) (*EnableEnhancedMonitoringOutput, *awserrors.Error) {
	return c.storeFor(region).EnableEnhancedMonitoring(in)
}

func (c *Cache) DisableEnhancedMonitoring(region string, in DisableEnhancedMonitoringInput) (*DisableEnhancedMonitoringOutput, *awserrors.Error) {
	return c.storeFor(region).DisableEnhancedMonitoring(in)
}

func (c *Cache) PutRecord(region string, in PutRecordInput) (*PutRecordOutput, *awserrors.Error) {
	return c.storeFor(region).PutRecord(in)
}

func (c *Cache) PutRecords(region string, in PutRecordsInput) (*PutRecordsOutput, *awserrors.Error) {
	return c.storeFor(region).PutRecords(in)
}

func (c *Cache) GetShardIterator(region string, in GetShardIteratorInput) (*GetShardIteratorOutput, *awserrors.Error) {
	return c.storeFor(region).GetShardIterator(in)
}

func (c *Cache) GetRecords(region string, in GetRecordsInput) (*GetRecordsOutput, *awserrors.Error) {
	return c.storeFor(region).GetRecords(in)
}

func (c *Cache) RegisterStreamConsumer(region string, in RegisterStreamConsumerInput) (*RegisterStreamConsumerOutput, *awserrors.Error) {
	return c.storeFor(region).RegisterStreamConsumer(in)
}

func (c *Cache) DeregisterStreamConsumer(region string, in DeregisterStreamConsumerInput) (*DeregisterStreamConsumerOutput, *awserrors.Error) {
	return c.storeFor(region).DeregisterStreamConsumer(in)
}

func (c *Cache) DescribeStreamConsumer(region string, in DescribeStreamConsumerInput) (*DescribeStreamConsumerOutput, *awserrors.Error) {
	return c.storeFor(region).DescribeStreamConsumer(in)
}

func (c *Cache) ListStreamConsumers(region string, in ListStreamConsumersInput) (*ListStreamConsumersOutput, *awserrors.Error) {
	return c.storeFor(region).ListStreamConsumers(in)
}
