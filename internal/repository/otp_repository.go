package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

// OTPRepository keeps one OTP item per email in the users table. DynamoDB
// TTL removes stale items eventually; expiry is still checked on read by
// the caller.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Store stores OTP data in DynamoDB with TTL, replacing any previous code
func (r *OTPRepository) Store(ctx context.Context, record models.OTPRecord) error {
	ttl := record.ExpiresAt.Unix()

	item := itemKey(otpPrefix + record.Email)
	item["Email"] = &types.AttributeValueMemberS{Value: record.Email}
	item["CodeHash"] = &types.AttributeValueMemberS{Value: record.CodeHash}
	item["CreatedAt"] = &types.AttributeValueMemberS{Value: record.CreatedAt.Format(time.RFC3339Nano)}
	item["ExpiresAt"] = &types.AttributeValueMemberS{Value: record.ExpiresAt.Format(time.RFC3339Nano)}
	item["Attempts"] = &types.AttributeValueMemberN{Value: strconv.Itoa(record.Attempts)}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

// Get retrieves OTP data from DynamoDB
func (r *OTPRepository) Get(ctx context.Context, email string) (*models.OTPRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(otpPrefix + email),
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var record models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &record, nil
}

// RecordFailure adds one to Attempts, conditioned on the item still holding
// codeHash so a failure never lands on a newer code.
func (r *OTPRepository) RecordFailure(ctx context.Context, email, codeHash string) (int, error) {
	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(otpPrefix + email),
		UpdateExpression:    aws.String("ADD Attempts :one"),
		ConditionExpression: aws.String("CodeHash = :code_hash"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":       &types.AttributeValueMemberN{Value: "1"},
			":code_hash": &types.AttributeValueMemberS{Value: codeHash},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, nil
		}
		r.logger.WithError(err).Error("Failed to record OTP failure in DynamoDB")
		return 0, fmt.Errorf("failed to record OTP failure: %w", err)
	}

	var attempts int
	if err := attributevalue.Unmarshal(result.Attributes["Attempts"], &attempts); err != nil {
		return 0, fmt.Errorf("failed to unmarshal OTP attempts: %w", err)
	}

	return attempts, nil
}

// Delete removes OTP data from DynamoDB
func (r *OTPRepository) Delete(ctx context.Context, email string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(otpPrefix + email),
	})

	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}

	return nil
}
