// pkg/aws/kinesis.go
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"go.uber.org/zap"
)

// KinesisPublisher writes session change records to a Kinesis stream.
type KinesisPublisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
	logger     *zap.Logger
}

func NewKinesisPublisher(sess *session.Session, streamName string, logger *zap.Logger) *KinesisPublisher {
	return &KinesisPublisher{
		client:     kinesis.New(sess),
		streamName: streamName,
		logger:     logger,
	}
}

// Publish puts one record. Records of one channel share a shard, so
// consumers see them in publish order.
func (k *KinesisPublisher) Publish(ctx context.Context, partitionKey string, data []byte) error {
	input := &kinesis.PutRecordInput{
		Data:         data,
		PartitionKey: aws.String(partitionKey),
		StreamName:   aws.String(k.streamName),
	}

	result, err := k.client.PutRecordWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to put record to Kinesis: %w", err)
	}

	k.logger.Debug("session change published",
		zap.String("stream", k.streamName),
		zap.String("sequence_number", aws.StringValue(result.SequenceNumber)),
	)
	return nil
}
