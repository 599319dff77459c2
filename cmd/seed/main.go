// Command seed sends root URLs to the scrape queue, one task per argument.
//
// Usage:
//
//	QUEUE_URL=... seed https://www.realtor.com/realestateandhomes-search/New-York_NY
package main

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/logging"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/queue"
)

func main() {
	logger := logging.SetDefault()

	queueURL := os.Getenv("QUEUE_URL")
	if queueURL == "" {
		logger.Error("QUEUE_URL is required")
		os.Exit(1)
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}

	urls := os.Args[1:]
	if len(urls) == 0 {
		logger.Error("usage: seed <url> [url...]")
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	client := sqs.NewFromConfig(awsCfg)

	for _, u := range urls {
		body, err := queue.EncodeTask(u)
		if err != nil {
			logger.Error("failed to encode task", "url", u, "error", err)
			os.Exit(1)
		}
		_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(body),
		})
		if err != nil {
			logger.Error("failed to send task", "url", u, "error", err)
			os.Exit(1)
		}
		logger.Info("sent task", "url", u)
	}
}
