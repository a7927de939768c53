// pkg/aws/session.go
package aws

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// NewSession builds the shared AWS session. A non-empty endpoint points
// DynamoDB at DynamoDB Local, which accepts any static credentials.
func NewSession(region, endpoint string) (*session.Session, error) {
	awsConfig := &aws.Config{
		Region: aws.String(region),
	}

	if endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
		awsConfig.Credentials = credentials.NewStaticCredentials("local", "local", "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}
