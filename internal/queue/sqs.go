// Package queue wraps the SQS operations the worker uses: long-poll receive,
// delete by receipt handle, and batched discovery sends.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Receive window and batch bounds, fixed to match the queue contract.
const (
	maxReceive        = 10
	maxBatchEntries   = 10
	visibilityTimeout = 90 // seconds
)

// Task is the inbound queue message body. Unknown keys are ignored.
type Task struct {
	URLToScrape string `json:"url_to_scrape"`
}

// ParseTask decodes a message body.
func ParseTask(body string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task body: %w", err)
	}
	return t, nil
}

// EncodeTask builds a message body for a URL.
func EncodeTask(url string) (string, error) {
	b, err := json.Marshal(Task{URLToScrape: url})
	if err != nil {
		return "", fmt.Errorf("failed to encode task body: %w", err)
	}
	return string(b), nil
}

// API is the subset of the SQS client the worker needs. The concrete
// *sqs.Client satisfies it; tests substitute fakes.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Client issues receive, delete and batch-send calls against one queue URL.
type Client struct {
	api      API
	queueURL string
	waitTime int32
}

// New creates a queue client. waitTime is the long-poll window.
func New(api API, queueURL string, waitTime time.Duration) *Client {
	return &Client{
		api:      api,
		queueURL: queueURL,
		waitTime: int32(waitTime / time.Second),
	}
}

// Receive long-polls for up to 10 messages with a 90 second invisibility
// window. An empty slice means the poll returned no messages.
func (c *Client) Receive(ctx context.Context) ([]types.Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxReceive,
		WaitTimeSeconds:     c.waitTime,
		VisibilityTimeout:   visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	return out.Messages, nil
}

// Delete removes a message by its receipt handle.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SendBatch enqueues discovered URLs as new tasks with sequential batch IDs.
// The queue service caps batches at 10 entries; callers bound fan-out before
// calling.
func (c *Client) SendBatch(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if len(urls) > maxBatchEntries {
		return fmt.Errorf("batch of %d exceeds the %d entry limit", len(urls), maxBatchEntries)
	}

	entries := make([]types.SendMessageBatchRequestEntry, 0, len(urls))
	for i, u := range urls {
		body, err := EncodeTask(u)
		if err != nil {
			return err
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(body),
		})
	}

	_, err := c.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("failed to send message batch: %w", err)
	}
	return nil
}
