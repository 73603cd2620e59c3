package objectstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// TopicRegistrar creates the notification topics buckets publish to. Each
// topic pushes to the broker exchange over AMQPS.
type TopicRegistrar struct {
	client *sns.Client
	broker config.BrokerConfig
	log    *logger.Logger
}

func NewTopicRegistrar(awsCfg aws.Config, endpoint string, broker config.BrokerConfig, log *logger.Logger) *TopicRegistrar {
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &TopicRegistrar{client: client, broker: broker, log: log}
}

// TopicAttributes are the push endpoint settings of a bucket topic.
func TopicAttributes(broker config.BrokerConfig) map[string]string {
	user, password := broker.PushUser, broker.PushPassword
	if user == "" {
		user, password = broker.User, broker.Password
	}
	return map[string]string{
		"push-endpoint":  fmt.Sprintf("amqps://%s:%s@%s:%d", user, password, broker.Host, broker.Port),
		"amqp-exchange":  broker.Exchange,
		"amqp-ack-level": "broker",
		"use-ssl":        "true",
		"verify-ssl":     "false",
		"persistent":     "true",
	}
}

// CreateTopic is idempotent: creating an existing topic returns its ARN.
func (r *TopicRegistrar) CreateTopic(ctx context.Context, name string) (string, error) {
	out, err := r.client.CreateTopic(ctx, &sns.CreateTopicInput{
		Name:       aws.String(name),
		Attributes: TopicAttributes(r.broker),
	})
	if err != nil {
		return "", fmt.Errorf("creating topic %s: %w", name, err)
	}

	arn := aws.ToString(out.TopicArn)
	r.log.Info(ctx, "Topic created", "topic", name, "topic_arn", arn)
	return arn, nil
}

const notificationID = "Send notification for changes in bucket area cvmfs"

// ConfigureBucketNotifications makes the bucket publish object creation and
// removal under prefix to the topic.
func ConfigureBucketNotifications(ctx context.Context, client *s3.Client, bucket, topicARN, prefix string) error {
	_, err := client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
		NotificationConfiguration: &s3types.NotificationConfiguration{
			TopicConfigurations: []s3types.TopicConfiguration{
				{
					Id:       aws.String(notificationID),
					TopicArn: aws.String(topicARN),
					Events: []s3types.Event{
						"s3:ObjectCreated:*",
						"s3:ObjectRemoved:*",
					},
					Filter: &s3types.NotificationConfigurationFilter{
						Key: &s3types.S3KeyFilter{
							FilterRules: []s3types.FilterRule{
								{Name: s3types.FilterRuleNamePrefix, Value: aws.String(prefix)},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring notifications of bucket %s: %w", bucket, err)
	}
	return nil
}
