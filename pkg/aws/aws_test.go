package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"go.uber.org/zap"
)

func TestArchiveKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*60*60))

	if got := ArchiveKey(now, "req-1"); got != "failed/2024/03/10/req-1.json" {
		t.Errorf("ArchiveKey = %q", got)
	}
}

type fakeKinesis struct {
	kinesisiface.KinesisAPI

	input *kinesis.PutRecordInput
	err   error
}

func (f *fakeKinesis) PutRecordWithContext(ctx aws.Context, in *kinesis.PutRecordInput, _ ...request.Option) (*kinesis.PutRecordOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &kinesis.PutRecordOutput{SequenceNumber: aws.String("1"), ShardId: aws.String("shardId-0")}, nil
}

func TestKinesisPublisherPublish(t *testing.T) {
	fake := &fakeKinesis{}
	p := &KinesisPublisher{client: fake, streamName: "session-changes", logger: zap.NewNop()}

	if err := p.Publish(context.Background(), "arn:ch", []byte(`{"session_id":"s1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if aws.StringValue(fake.input.StreamName) != "session-changes" || aws.StringValue(fake.input.PartitionKey) != "arn:ch" {
		t.Errorf("input = %v", fake.input)
	}
	if string(fake.input.Data) != `{"session_id":"s1"}` {
		t.Errorf("data = %s", fake.input.Data)
	}

	fake.err = errors.New("ResourceNotFoundException")
	if err := p.Publish(context.Background(), "arn:ch", nil); err == nil {
		t.Error("expected error")
	}
}

func TestNewSession(t *testing.T) {
	sess, err := NewSession("eu-west-1", "http://localhost:8000")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if aws.StringValue(sess.Config.Region) != "eu-west-1" || aws.StringValue(sess.Config.Endpoint) != "http://localhost:8000" {
		t.Errorf("config = %s %s", aws.StringValue(sess.Config.Region), aws.StringValue(sess.Config.Endpoint))
	}
	creds, err := sess.Config.Credentials.Get()
	if err != nil || creds.AccessKeyID != "local" {
		t.Errorf("credentials = %+v, %v", creds, err)
	}
}
