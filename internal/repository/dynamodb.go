// internal/repository/dynamodb.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

// DynamoDBRepository stores stream sessions keyed by {channelArn, id}.
type DynamoDBRepository struct {
	db             dynamodbiface.DynamoDBAPI
	tableName      string
	startTimeIndex string
	logger         *zap.Logger
}

func NewDynamoDBRepository(db dynamodbiface.DynamoDBAPI, cfg *config.Config, logger *zap.Logger) *DynamoDBRepository {
	return &DynamoDBRepository{
		db:             db,
		tableName:      cfg.SessionsTableName,
		startTimeIndex: cfg.SessionsStartTimeGSI,
		logger:         logger,
	}
}

func sessionKey(channelArn, sessionID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		models.AttrChannelArn: {S: aws.String(channelArn)},
		models.AttrID:         {S: aws.String(sessionID)},
	}
}

func (r *DynamoDBRepository) GetSession(ctx context.Context, channelArn, sessionID string) (*models.StreamSession, error) {
	result, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            sessionKey(channelArn, sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var session models.StreamSession
	if err := dynamodbattribute.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *DynamoDBRepository) ListSessionsByChannel(ctx context.Context, channelArn string) ([]models.SessionSummary, error) {
	keyCond := expression.Key(models.AttrChannelArn).Equal(expression.Value(channelArn))
	projection := expression.NamesList(
		expression.Name(models.AttrID),
		expression.Name(models.AttrStartTime),
		expression.Name(models.AttrIsOpen),
	)
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(projection).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.startTimeIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var sessions []models.SessionSummary
	var decodeErr error
	err = r.db.QueryPagesWithContext(ctx, input, func(page *dynamodb.QueryOutput, lastPage bool) bool {
		var batch []models.SessionSummary
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			decodeErr = err
			return false
		}
		sessions = append(sessions, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", decodeErr)
	}

	return sessions, nil
}

// AppendEvent applies a merge as one UpdateItem. The log write is guarded by
// the prior log length so a merge computed from a stale read is rejected with
// ErrConcurrentUpdate instead of dropping the other writer's event.
func (r *DynamoDBRepository) AppendEvent(ctx context.Context, req AppendRequest) error {
	update := expression.Set(
		expression.Name(models.AttrTruncatedEvents),
		expression.Value(req.Log),
	)
	if req.UserSub != "" {
		update = update.Set(
			expression.Name(models.AttrUserSub),
			expression.IfNotExists(expression.Name(models.AttrUserSub), expression.Value(req.UserSub)),
		)
	}
	for name, value := range req.Set {
		update = update.Set(expression.Name(name), expression.Value(value))
	}
	for _, name := range req.Unset {
		update = update.Remove(expression.Name(name))
	}

	cond := expression.AttributeNotExists(expression.Name(models.AttrTruncatedEvents)).
		Or(expression.Size(expression.Name(models.AttrTruncatedEvents)).Equal(expression.Value(req.PriorLen)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = r.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       sessionKey(req.ChannelArn, req.SessionID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("append to %s/%s: %w", req.ChannelArn, req.SessionID, ErrConcurrentUpdate)
		}
		return fmt.Errorf("failed to append event: %w", err)
	}

	r.logger.Debug("session event appended",
		zap.String("channel_arn", req.ChannelArn),
		zap.String("session_id", req.SessionID),
		zap.String("event", req.Event.Name),
		zap.Int("log_length", len(req.Log)),
	)
	return nil
}

// CloseSession removes isOpen. Closing an absent or already closed session is
// a no-op; the existence condition keeps it from creating an empty item.
func (r *DynamoDBRepository) CloseSession(ctx context.Context, channelArn, sessionID string) error {
	update := expression.Remove(expression.Name(models.AttrIsOpen))
	cond := expression.AttributeExists(expression.Name(models.AttrID))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = r.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      sessionKey(channelArn, sessionID),
		UpdateExpression:         expr.Update(),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return fmt.Errorf("failed to close session: %w", err)
	}

	return nil
}

// DynamoDBDirectory looks channel owners up through the channelArn index of
// the channels table.
type DynamoDBDirectory struct {
	db        dynamodbiface.DynamoDBAPI
	tableName string
	indexName string
}

func NewDynamoDBDirectory(db dynamodbiface.DynamoDBAPI, cfg *config.Config) *DynamoDBDirectory {
	return &DynamoDBDirectory{
		db:        db,
		tableName: cfg.ChannelsTableName,
		indexName: cfg.ChannelsChannelArnGSI,
	}
}

func (d *DynamoDBDirectory) FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error) {
	keyCond := expression.Key(models.AttrChannelArn).Equal(expression.Value(channelArn))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	result, err := d.db.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(d.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int64(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query channel owner: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, ErrOwnerNotFound
	}

	var owner models.ChannelOwner
	if err := dynamodbattribute.UnmarshalMap(result.Items[0], &owner); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel owner: %w", err)
	}
	if owner.ID == "" {
		return nil, ErrOwnerNotFound
	}

	return &owner, nil
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
