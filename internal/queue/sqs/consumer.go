package sqsqueue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"autoreply/internal/queue"
)

// maxVisibility is the SQS ceiling for ChangeMessageVisibility (12h).
const maxVisibility = 12 * time.Hour

type Consumer struct {
	SQS      *sqs.Client
	Lane     queue.Lane
	QueueURL string
	// DeadLetterURL receives permanently failed bodies. Empty means drop.
	DeadLetterURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
	MaxAttempts       int
	JobTimeout        time.Duration
}

// PollConcurrent processes messages with a worker pool. Messages are deleted
// only after the handler completes or the failure is permanent; anything else
// is made visible again after a backoff.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler queue.Handler) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              &c.QueueURL,
				MaxNumberOfMessages:   c.MaxMessages,
				WaitTimeSeconds:       c.WaitTimeSeconds,
				VisibilityTimeout:     c.VisibilityTimeout,
				AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
				MessageAttributeNames: []string{"All"},
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Error("sqs receive message failed", "lane", c.Lane, "err", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	// Wait for shutdown signal (ctx canceled) or producer signals error
	err := <-errCh

	// Let workers finish whatever is already in `jobs` (channel will be closed by producer)
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler queue.Handler) {
	// in-flight jobs finish even when shutdown has begun
	ctx = context.WithoutCancel(ctx)

	if m.Body == nil {
		c.delete(ctx, m)
		return
	}

	d := queue.Delivery{
		ID:      aws.ToString(m.MessageId),
		Lane:    c.Lane,
		Attempt: receiveCount(m),
	}
	d.Final = c.MaxAttempts > 0 && d.Attempt >= c.MaxAttempts

	jobCtx := ctx
	if c.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, c.JobTimeout)
		defer cancel()
	}

	err := handler(jobCtx, d, []byte(*m.Body))
	switch {
	case err == nil:
		c.delete(ctx, m)
	case queue.IsPermanent(err) || d.Final:
		slog.Error("job failed permanently", "lane", c.Lane, "message_id", d.ID, "attempt", d.Attempt, "err", err)
		c.deadLetter(ctx, m, err)
		c.delete(ctx, m)
	default:
		delay := queue.Backoff(d.Attempt)
		if delay > maxVisibility {
			delay = maxVisibility
		}
		slog.Warn("job failed, will retry", "lane", c.Lane, "message_id", d.ID, "attempt", d.Attempt, "retry_in", delay, "err", err)
		_, verr := c.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &c.QueueURL,
			ReceiptHandle:     m.ReceiptHandle,
			VisibilityTimeout: int32(delay / time.Second),
		})
		if verr != nil {
			slog.Error("sqs change visibility failed", "lane", c.Lane, "err", verr)
		}
	}
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Error("sqs delete message failed", "lane", c.Lane, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m types.Message, cause error) {
	if c.DeadLetterURL == "" {
		return
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.DeadLetterURL),
		MessageBody: m.Body,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":   {DataType: aws.String("String"), StringValue: aws.String(string(c.Lane))},
			"reason": {DataType: aws.String("String"), StringValue: aws.String(truncate(reason, 256))},
		},
	}
	if strings.HasSuffix(c.DeadLetterURL, ".fifo") {
		in.MessageGroupId = aws.String(string(c.Lane))
		in.MessageDeduplicationId = aws.String(dedupID(aws.ToString(m.MessageId)))
	}
	if _, err := c.SQS.SendMessage(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sqs dead-letter send failed", "lane", c.Lane, "err", err)
	}
}

func receiveCount(m types.Message) int {
	n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
