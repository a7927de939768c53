// internal/migration/dynamodb.go
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

type DynamoDBMigrator struct {
	db            dynamodbiface.DynamoDBAPI
	config        *config.Config
	logger        *zap.Logger
	retryInterval time.Duration
	maxRetries    int
}

func NewDynamoDBMigrator(db dynamodbiface.DynamoDBAPI, cfg *config.Config, logger *zap.Logger) *DynamoDBMigrator {
	return &DynamoDBMigrator{
		db:            db,
		config:        cfg,
		logger:        logger,
		retryInterval: 2 * time.Second,
		maxRetries:    30,
	}
}

// CreateTables creates the sessions and channels tables when missing.
func (m *DynamoDBMigrator) CreateTables(ctx context.Context) error {
	m.logger.Info("starting DynamoDB table creation")

	if err := m.createTable(ctx, SessionsTableInput(m.config)); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	if err := m.createTable(ctx, ChannelsTableInput(m.config)); err != nil {
		return fmt.Errorf("failed to create channels table: %w", err)
	}

	m.logger.Info("DynamoDB tables ready")
	return nil
}

// SessionsTableInput describes the stream session table: one item per
// {channelArn, id} and an index ordering a channel's sessions by startTime.
func SessionsTableInput(cfg *config.Config) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.SessionsTableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(models.AttrChannelArn), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String(models.AttrID), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(models.AttrChannelArn), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(models.AttrID), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(models.AttrStartTime), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(cfg.SessionsStartTimeGSI),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String(models.AttrChannelArn), KeyType: aws.String(dynamodb.KeyTypeHash)},
					{AttributeName: aws.String(models.AttrStartTime), KeyType: aws.String(dynamodb.KeyTypeRange)},
				},
				Projection: &dynamodb.Projection{
					ProjectionType:   aws.String(dynamodb.ProjectionTypeInclude),
					NonKeyAttributes: []*string{aws.String(models.AttrIsOpen)},
				},
			},
		},
	}
}

// ChannelsTableInput describes the channel directory table.
func ChannelsTableInput(cfg *config.Config) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.ChannelsTableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(models.AttrID), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(models.AttrID), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(models.AttrChannelArn), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(cfg.ChannelsChannelArnGSI),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String(models.AttrChannelArn), KeyType: aws.String(dynamodb.KeyTypeHash)},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeKeysOnly),
				},
			},
		},
	}
}

func (m *DynamoDBMigrator) createTable(ctx context.Context, input *dynamodb.CreateTableInput) error {
	tableName := aws.StringValue(input.TableName)

	// Check if table already exists
	_, err := m.db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err == nil {
		m.logger.Info("table already exists, skipping creation", zap.String("table", tableName))
		return nil
	}

	m.logger.Info("creating table", zap.String("table", tableName))

	if _, err := m.db.CreateTableWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	return m.waitForTableActive(ctx, tableName)
}

func (m *DynamoDBMigrator) waitForTableActive(ctx context.Context, tableName string) error {
	for i := 0; i < m.maxRetries; i++ {
		resp, err := m.db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", tableName, err)
		}

		status := aws.StringValue(resp.Table.TableStatus)
		if status == dynamodb.TableStatusActive {
			m.logger.Info("table is active", zap.String("table", tableName))
			return nil
		}

		m.logger.Debug("waiting for table", zap.String("table", tableName), zap.String("status", status))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryInterval):
		}
	}

	return fmt.Errorf("table %s did not become active within timeout", tableName)
}
