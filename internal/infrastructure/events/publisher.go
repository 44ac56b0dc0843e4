package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/snaphub-notify/internal/config"
	"github.com/snaphub-notify/internal/domain"
)

// StatusChange is emitted when a reconciliation pass observes a record whose
// status moved since the previous pass.
type StatusChange struct {
	UserID     string      `json:"user_id"`
	ID         string      `json:"id"`
	Kind       domain.Kind `json:"type"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	ObservedAt time.Time   `json:"observed_at"`
}

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes status changes to an SNS topic as JSON messages.
type SNSPublisher struct {
	client   publishAPI
	topicARN string
}

// NewSNSPublisher builds a publisher for cfg.SNSTopicARN. When
// cfg.AWSEndpointURL is set (LocalStack) the endpoint is overridden.
func NewSNSPublisher(ctx context.Context, cfg *config.Config) (*SNSPublisher, error) {
	if cfg.SNSTopicARN == "" {
		return nil, fmt.Errorf("SNS_TOPIC_ARN not set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNSRegion))
	if err != nil {
		return nil, err
	}
	var opts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return &SNSPublisher{client: sns.NewFromConfig(awsCfg, opts...), topicARN: cfg.SNSTopicARN}, nil
}

func (p *SNSPublisher) PublishStatusChanges(ctx context.Context, changes []StatusChange) error {
	for _, c := range changes {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal status change: %w", err)
		}
		_, err = p.client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(p.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"type": {DataType: aws.String("String"), StringValue: aws.String(string(c.Kind))},
			},
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", c.ID, err)
		}
	}
	return nil
}
