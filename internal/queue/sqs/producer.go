package sqsqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"autoreply/internal/queue"
)

const defaultGroupBuckets = 64

// Producer sends lane messages to one SQS queue per lane. FIFO queues (".fifo"
// suffix) get a bucketed MessageGroupId so one busy account cannot serialize
// the whole lane.
type Producer struct {
	SQS       *sqs.Client
	QueueURLs map[queue.Lane]string
	Buckets   int
}

func (p *Producer) Send(ctx context.Context, m queue.Message) error {
	url, ok := p.QueueURLs[m.Lane]
	if !ok || url == "" {
		return fmt.Errorf("no queue url for lane %s", m.Lane)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(m.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(m.Lane))},
		},
	}
	if strings.HasSuffix(url, ".fifo") {
		dedup := m.DedupID
		if dedup == "" {
			sum := sha256.Sum256(m.Body)
			dedup = hex.EncodeToString(sum[:])
		}
		in.MessageGroupId = aws.String(messageGroupIDBucketed(string(m.Lane), m.GroupKey, p.Buckets))
		in.MessageDeduplicationId = aws.String(dedupID(dedup))
	}
	_, err := p.SQS.SendMessage(ctx, in)
	return err
}

func messageGroupIDBucketed(lane, key string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%s:%d", lane, h.Sum32()%uint32(buckets))
}

// SQS caps deduplication ids at 128 characters.
func dedupID(s string) string {
	if len(s) <= 128 {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
