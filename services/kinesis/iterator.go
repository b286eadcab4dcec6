package kinesis

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"

	"kinesisbox/awserrors"
	"kinesisbox/services/kinesis/sequence"
)

const shardIteratorTTL = 300 * time.Second

// iteratorPayload is what's actually inside a GetShardIterator token. It is
// never persisted and never shown to callers raw: iteratorSigner wraps it
// in an HMAC so a client can't forge a token for a shard it was never
// handed one for, and so a token from a previous process incarnation
// (whose signing key is gone) is rejected outright rather than
// misinterpreted.
type iteratorPayload struct {
	StreamName     string
	ShardId        string
	SequenceNumber string
	// AfterSequenceNumber marks whether SequenceNumber is exclusive
	// (AFTER_SEQUENCE_NUMBER) or inclusive (AT_SEQUENCE_NUMBER/TRIM_HORIZON).
	AfterSequenceNumber bool
	ExpiresAt           int64
}

// iteratorSigner mints and verifies shard-iterator tokens. Each region
// store has its own key, generated fresh at process start, which is why
// GetRecords with a pre-restart iterator fails its signature check with an
// InvalidArgumentException rather than silently reading from the wrong shard.
type iteratorSigner struct {
	key []byte
}

func newIteratorSigner() *iteratorSigner {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("kinesis: failed to seed iterator signing key: " + err.Error())
	}
	return &iteratorSigner{key: key}
}

func (g *iteratorSigner) sign(p iteratorPayload) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, g.key)
	mac.Write(buf.Bytes())
	sig := mac.Sum(nil)

	var out bytes.Buffer
	out.Write(sig)
	out.Write(buf.Bytes())
	return base64.RawURLEncoding.EncodeToString(out.Bytes()), nil
}

func (g *iteratorSigner) verify(token string) (iteratorPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < sha256.Size {
		return iteratorPayload{}, fmt.Errorf("malformed shard iterator")
	}
	sig, body := raw[:sha256.Size], raw[sha256.Size:]

	mac := hmac.New(sha256.New, g.key)
	mac.Write(body)
	expected := mac.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return iteratorPayload{}, fmt.Errorf("shard iterator signature does not match")
	}

	var p iteratorPayload
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&p); err != nil {
		return iteratorPayload{}, fmt.Errorf("malformed shard iterator")
	}
	return p, nil
}

func (s *regionStore) GetShardIterator(input GetShardIteratorInput) (*GetShardIteratorOutput, *awserrors.Error) {
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
	shard := stream.shardByID(input.ShardId)
	if shard == nil {
		return nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Shard %s not found in stream %s", input.ShardId, name))
	}

	payload := iteratorPayload{StreamName: name, ShardId: shard.ShardId}
	switch input.ShardIteratorType {
	case "TRIM_HORIZON":
		payload.SequenceNumber = shard.StartingSequenceNumber
	case "LATEST":
		if len(shard.Records) == 0 {
			payload.SequenceNumber = shard.StartingSequenceNumber
		} else {
			payload.SequenceNumber = shard.Records[len(shard.Records)-1].SequenceNumber
			payload.AfterSequenceNumber = true
		}
	case "AT_SEQUENCE_NUMBER":
		if input.StartingSequenceNumber == "" {
			return nil, awserrors.ValidationException("StartingSequenceNumber is required for AT_SEQUENCE_NUMBER")
		}
		payload.SequenceNumber = input.StartingSequenceNumber
	case "AFTER_SEQUENCE_NUMBER":
		if input.StartingSequenceNumber == "" {
			return nil, awserrors.ValidationException("StartingSequenceNumber is required for AFTER_SEQUENCE_NUMBER")
		}
		payload.SequenceNumber = input.StartingSequenceNumber
		payload.AfterSequenceNumber = true
	case "AT_TIMESTAMP":
		cutoff := timeFromFloatSeconds(input.Timestamp)
		payload.SequenceNumber = shard.sequenceNumberAtOrAfter(cutoff)
	default:
		return nil, awserrors.ValidationException(fmt.Sprintf(
			"ShardIteratorType %q is not a recognized value", input.ShardIteratorType))
	}

	payload.ExpiresAt = s.clock.Now().Add(shardIteratorTTL).Unix()
	token, signErr := s.iterators.sign(payload)
	if signErr != nil {
		return nil, awserrors.InternalFailure(signErr.Error())
	}
	return &GetShardIteratorOutput{ShardIterator: token}, nil
}

// sequenceNumberAtOrAfter returns the sequence number of the first record
// whose arrival timestamp is >= cutoff, or one past the shard's last
// record if none qualify.
func (sh *Shard) sequenceNumberAtOrAfter(cutoff time.Time) string {
	for _, r := range sh.Records {
		if !r.ApproximateArrivalTimestamp.Before(cutoff) {
			return r.SequenceNumber
		}
	}
	if len(sh.Records) > 0 {
		return sequence.Number{
			ShardCreationDate: uint64(sh.CreatedAt.Unix()),
			ShardIndex:        uint32(sh.Index),
			ByteOffset:        sh.NextByteOffset,
		}.Encode()
	}
	return sh.StartingSequenceNumber
}

func (s *regionStore) GetRecords(input GetRecordsInput) (*GetRecordsOutput, *awserrors.Error) {
	payload, verifyErr := s.iterators.verify(input.ShardIterator)
	if verifyErr != nil {
		return nil, awserrors.InvalidArgumentException(verifyErr.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.Now().Unix() > payload.ExpiresAt {
		return nil, awserrors.ExpiredIteratorException("Shard iterator has expired")
	}

	stream, err := s.getStream(payload.StreamName)
	if err != nil {
		return nil, err
	}
	if err := s.requireNotDeleting(stream); err != nil {
		return nil, err
	}
	shard := stream.shardByID(payload.ShardId)
	if shard == nil {
		return nil, awserrors.ResourceNotFoundException(fmt.Sprintf(
			"Shard %s no longer exists in stream %s", payload.ShardId, payload.StreamName))
	}

	startIdx, cmpErr := recordIndexFor(shard, payload.SequenceNumber, payload.AfterSequenceNumber)
	if cmpErr != nil {
		return nil, awserrors.InvalidArgumentException(cmpErr.Error())
	}

	limit := int(input.Limit)
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	maxEnd := startIdx + limit
	if maxEnd > len(shard.Records) {
		maxEnd = len(shard.Records)
	}

	const maxRecordsBytes = 10 * 1024 * 1024
	end := startIdx
	totalBytes := 0
	for end < maxEnd {
		r := shard.Records[end]
		size := len(r.Data) + len(r.PartitionKey)
		if end > startIdx && totalBytes+size > maxRecordsBytes {
			break
		}
		totalBytes += size
		end++
	}

	apiRecords := make([]APIRecord, 0, end-startIdx)
	for _, r := range shard.Records[startIdx:end] {
		apiRecords = append(apiRecords, APIRecord{
			SequenceNumber:              r.SequenceNumber,
			ApproximateArrivalTimestamp: r.ApproximateArrivalTimestamp.UnixMilli(),
			Data:                        r.Data,
			PartitionKey:                r.PartitionKey,
			EncryptionType:              string(r.EncryptionType),
		})
	}

	out := &GetRecordsOutput{Records: apiRecords}
	hasMore := end < len(shard.Records)
	// A closed shard reports ChildShards only on a call that finds nothing
	// left to read; the call that returns its last records still hands back
	// a forward iterator.
	if hasMore || shard.isOpen() || end > startIdx {
		nextPayload := iteratorPayload{
			StreamName:          payload.StreamName,
			ShardId:             payload.ShardId,
			SequenceNumber:      payload.SequenceNumber,
			AfterSequenceNumber: payload.AfterSequenceNumber,
			ExpiresAt:           s.clock.Now().Add(shardIteratorTTL).Unix(),
		}
		if end > startIdx {
			nextPayload.SequenceNumber = shard.Records[end-1].SequenceNumber
			nextPayload.AfterSequenceNumber = true
		}
		token, signErr := s.iterators.sign(nextPayload)
		if signErr != nil {
			return nil, awserrors.InternalFailure(signErr.Error())
		}
		out.NextShardIterator = token
	} else {
		out.ChildShards = stream.childShardsOf(shard)
	}

	if n := len(shard.Records); n > 0 {
		out.MillisBehindLatest = s.clock.Now().Sub(shard.lastArrival()).Milliseconds()
		if out.MillisBehindLatest < 0 {
			out.MillisBehindLatest = 0
		}
	}

	return out, nil
}

// recordIndexFor returns the index of the first record a GetRecords call
// starting from seqNum (inclusive, or exclusive if after is set) should
// return.
func recordIndexFor(shard *Shard, seqNum string, after bool) (int, error) {
	target, err := sequence.Decode(seqNum)
	if err != nil {
		return 0, err
	}
	for i, r := range shard.Records {
		rn, err := sequence.Decode(r.SequenceNumber)
		if err != nil {
			return 0, err
		}
		cmp := rn.Compare(target)
		if after && cmp > 0 {
			return i, nil
		}
		if !after && cmp >= 0 {
			return i, nil
		}
	}
	return len(shard.Records), nil
}

func (stream *Stream) childShardsOf(parent *Shard) []APIChildShard {
	var children []APIChildShard
	for _, sh := range stream.Shards {
		if sh.ParentShardId != parent.ShardId && sh.AdjacentParentShardId != parent.ShardId {
			continue
		}
		parents := []string{sh.ParentShardId}
		if sh.AdjacentParentShardId != "" {
			parents = append(parents, sh.AdjacentParentShardId)
		}
		children = append(children, APIChildShard{
			ShardId:      sh.ShardId,
			ParentShards: parents,
			HashKeyRange: APIHashKeyRange{
				StartingHashKey: sh.HashKeyRange.Start.String(),
				EndingHashKey:   sh.HashKeyRange.End.String(),
			},
		})
	}
	return children
}
