package kinesis

import (
	"fmt"
	"regexp"

	"kinesisbox/awserrors"
)

var (
	streamNamePattern   = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	consumerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	tagKeyPattern       = regexp.MustCompile(`^[a-zA-Z0-9 +\-=._:/@]+$`)
)

const (
	maxStreamNameLength    = 128
	maxConsumerNameLength  = 128
	maxPartitionKeyLength  = 256
	maxDataSizeBytes       = 1 << 20 // 1 MiB
	maxTagsPerStream       = 50
	maxConsumersPerStream  = 20
	minRetentionHours      = 24
	maxRetentionHours      = 8760
)

// fieldValidator accumulates field-level complaints across a whole request
// so a single ValidationException can report every problem at once, the
// way the real service does, instead of failing fast on the first one.
type fieldValidator struct {
	errs []string
}

func (v *fieldValidator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *fieldValidator) err() *awserrors.Error {
	if len(v.errs) == 0 {
		return nil
	}
	return awserrors.ValidationException(v.errs...)
}

func (v *fieldValidator) requireStreamName(name string) {
	if name == "" {
		v.fail("Stream name may not be empty")
		return
	}
	if len(name) > maxStreamNameLength {
		v.fail("Stream name %q exceeds %d characters", name, maxStreamNameLength)
	}
	if !streamNamePattern.MatchString(name) {
		v.fail("Stream name %q does not match pattern %s", name, streamNamePattern.String())
	}
}

func (v *fieldValidator) requireConsumerName(name string) {
	if name == "" {
		v.fail("Consumer name may not be empty")
		return
	}
	if len(name) > maxConsumerNameLength {
		v.fail("Consumer name %q exceeds %d characters", name, maxConsumerNameLength)
	}
	if !consumerNamePattern.MatchString(name) {
		v.fail("Consumer name %q does not match pattern %s", name, consumerNamePattern.String())
	}
}

func (v *fieldValidator) requireShardCount(count int64, limit int) {
	if count < 1 {
		v.fail("ShardCount must be at least 1")
	}
	if int(count) > limit {
		v.fail("ShardCount %d exceeds the maximum of %d", count, limit)
	}
}

func (v *fieldValidator) requirePartitionKey(key string) {
	if key == "" {
		v.fail("PartitionKey may not be empty")
		return
	}
	if len(key) > maxPartitionKeyLength {
		v.fail("PartitionKey exceeds %d characters", maxPartitionKeyLength)
	}
}

func (v *fieldValidator) requireDataSize(data []byte) {
	if len(data) == 0 {
		v.fail("Data may not be empty")
		return
	}
	if len(data) > maxDataSizeBytes {
		v.fail("Data size %d exceeds the maximum of %d bytes", len(data), maxDataSizeBytes)
	}
}

func (v *fieldValidator) requireRetentionHours(hours int32) {
	if hours < minRetentionHours || hours > maxRetentionHours {
		v.fail("RetentionPeriodHours %d must be between %d and %d", hours, minRetentionHours, maxRetentionHours)
	}
}

func (v *fieldValidator) requireTagCount(existing, adding int) {
	if existing+adding > maxTagsPerStream {
		v.fail("Tagging would exceed the maximum of %d tags per stream", maxTagsPerStream)
	}
}

func (v *fieldValidator) requireTagKey(key string) {
	if key == "" || len(key) > 128 || !tagKeyPattern.MatchString(key) {
		v.fail("Tag key %q is invalid", key)
	}
}

func (v *fieldValidator) requireConsumerCount(existing int) {
	if existing >= maxConsumersPerStream {
		v.fail("Stream already has the maximum of %d registered consumers", maxConsumersPerStream)
	}
}
