package kinesis

import "testing"

func TestFieldValidatorAccumulatesAllErrors(t *testing.T) {
	v := &fieldValidator{}
	v.requireStreamName("")
	v.requirePartitionKey("")

	err := v.err()
	if err == nil {
		t.Fatal("expected a non-nil error after two failed checks")
	}
	if err.Body.Type != "ValidationException" {
		t.Fatalf("expected ValidationException, got %s", err.Body.Type)
	}
	if err.Body.Message == "" {
		t.Fatal("expected a joined message describing both failures")
	}
}

func TestFieldValidatorNoErrorsIsNil(t *testing.T) {
	v := &fieldValidator{}
	v.requireStreamName("orders")
	if err := v.err(); err != nil {
		t.Fatalf("expected no error for a valid stream name, got %v", err)
	}
}

func TestRequireStreamNameRejectsBadCharacters(t *testing.T) {
	v := &fieldValidator{}
	v.requireStreamName("bad name with spaces!")
	if err := v.err(); err == nil {
		t.Fatal("expected validation failure for a stream name with illegal characters")
	}
}

func TestRequireShardCountEnforcesLimit(t *testing.T) {
	v := &fieldValidator{}
	v.requireShardCount(1000, 10)
	if err := v.err(); err == nil {
		t.Fatal("expected validation failure when shard count exceeds the limit")
	}
}
