package sqsqueue

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func TestMessageGroupIDBucketed(t *testing.T) {
	lane := "reply-dispatch"
	account := "acc_01"

	got1 := messageGroupIDBucketed(lane, account, 2000)
	got2 := messageGroupIDBucketed(lane, account, 2000)
	if got1 != got2 {
		t.Fatalf("expected stable group id, got %q vs %q", got1, got2)
	}
	if !strings.HasPrefix(got1, lane+":") {
		t.Fatalf("expected lane prefix, got %q", got1)
	}

	// buckets<=0 should use default.
	got3 := messageGroupIDBucketed(lane, account, 0)
	if got3 == "" {
		t.Fatalf("expected non-empty group id for default buckets")
	}

	seen := map[string]bool{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[messageGroupIDBucketed(lane, k, 1)] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected one bucket, got %d", len(seen))
	}
}

func TestDedupIDCapped(t *testing.T) {
	short := "INSTAGRAM:17890"
	if dedupID(short) != short {
		t.Fatalf("short ids must pass through")
	}
	long := strings.Repeat("x", 300)
	if got := dedupID(long); len(got) != 64 {
		t.Fatalf("expected sha256 hex, got len %d", len(got))
	}
}

func TestReceiveCount(t *testing.T) {
	m := types.Message{Body: aws.String("{}"), Attributes: map[string]string{"ApproximateReceiveCount": "3"}}
	if got := receiveCount(m); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(types.Message{}); got != 1 {
		t.Fatalf("expected default 1, got %d", got)
	}
}
