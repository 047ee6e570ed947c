package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

var errConcurrentUpdate = errors.New("user was modified concurrently")

// UserRepository stores users in a single DynamoDB table. Each user owns a
// USER#<id> item plus EMAIL#<email> and PHONE#<phone> guard items that
// point back at the id and keep both values unique.
type UserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(userPrefix + id),
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil // User not found
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findByGuard(ctx, emailPrefix+email)
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findByGuard(ctx, phonePrefix+phone)
}

func (r *UserRepository) findByGuard(ctx context.Context, pk string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).WithField("pk", pk).Error("Failed to get user guard item")
		return nil, fmt.Errorf("failed to get user guard: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	idAttr, ok := result.Item["UserID"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return nil, fmt.Errorf("guard item %s has no user id", pk)
	}

	return r.FindByID(ctx, idAttr.Value)
}

// FindAll scans every user item and returns them in registration order.
func (r *UserRepository) FindAll(ctx context.Context) ([]models.User, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: userPrefix},
			":sk":        &types.AttributeValueMemberS{Value: metadataSK},
		},
	})

	var users []models.User
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan users")
			return nil, fmt.Errorf("failed to scan users: %w", err)
		}

		var batch []models.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal users: %w", err)
		}
		users = append(users, batch...)
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users, nil
}

// Create writes the user together with its email and phone guards in one
// transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	tx := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}},
		{Put: r.guardPut(emailPrefix+user.Email, user.ID)},
		{Put: r.guardPut(phonePrefix+user.Phone, user.ID)},
	}
	failures := []error{
		fmt.Errorf("user %s already exists", user.ID),
		models.ErrDuplicateEmail,
		models.ErrDuplicatePhone,
	}

	if err := r.transact(ctx, tx, failures); err != nil {
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return err
	}

	return nil
}

// UpdateProfile writes name, email and phone only. Guards move with the
// email and phone; the update is conditioned on the email and phone it was
// computed from, so a concurrent profile change fails instead of being
// overwritten.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, updatedAt time.Time) (*models.User, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, models.ErrUserNotFound
	}

	updated := *current
	if patch.Name != "" {
		updated.Name = patch.Name
	}
	if patch.Email != "" {
		updated.Email = patch.Email
	}
	if patch.Phone != "" {
		updated.Phone = patch.Phone
	}
	updated.UpdatedAt = updatedAt

	updatedAtAttr, err := attributevalue.Marshal(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated_at: %w", err)
	}

	tx := []types.TransactWriteItem{
		{Update: &types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 itemKey(userPrefix + id),
			UpdateExpression:    aws.String("SET #name = :name, email = :email, phone = :phone, updated_at = :updated_at"),
			ConditionExpression: aws.String("attribute_exists(PK) AND email = :old_email AND phone = :old_phone"),
			ExpressionAttributeNames: map[string]string{
				"#name": "name",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":name":       &types.AttributeValueMemberS{Value: updated.Name},
				":email":      &types.AttributeValueMemberS{Value: updated.Email},
				":phone":      &types.AttributeValueMemberS{Value: updated.Phone},
				":updated_at": updatedAtAttr,
				":old_email":  &types.AttributeValueMemberS{Value: current.Email},
				":old_phone":  &types.AttributeValueMemberS{Value: current.Phone},
			},
		}},
	}
	failures := []error{errConcurrentUpdate}

	if updated.Email != current.Email {
		tx = append(tx,
			types.TransactWriteItem{Delete: r.guardDelete(emailPrefix+current.Email, id)},
			types.TransactWriteItem{Put: r.guardPut(emailPrefix+updated.Email, id)},
		)
		failures = append(failures, errConcurrentUpdate, models.ErrDuplicateEmail)
	}
	if updated.Phone != current.Phone {
		tx = append(tx,
			types.TransactWriteItem{Delete: r.guardDelete(phonePrefix+current.Phone, id)},
			types.TransactWriteItem{Put: r.guardPut(phonePrefix+updated.Phone, id)},
		)
		failures = append(failures, errConcurrentUpdate, models.ErrDuplicatePhone)
	}

	if err := r.transact(ctx, tx, failures); err != nil {
		r.logger.WithError(err).Error("Failed to update user profile in DynamoDB")
		return nil, err
	}

	return &updated, nil
}

func (r *UserRepository) SetPassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	_, err := r.setFields(ctx, id, "SET password_hash = :password_hash, updated_at = :updated_at", updatedAt,
		map[string]types.AttributeValue{
			":password_hash": &types.AttributeValueMemberS{Value: passwordHash},
		}, types.ReturnValueNone)
	return err
}

func (r *UserRepository) SetAdmin(ctx context.Context, id string, admin bool) error {
	_, err := r.setFields(ctx, id, "SET is_admin = :is_admin, updated_at = :updated_at", time.Now().UTC(),
		map[string]types.AttributeValue{
			":is_admin": &types.AttributeValueMemberBOOL{Value: admin},
		}, types.ReturnValueNone)
	return err
}

// SetVerified flips the verification flag and returns the previous value
// from the same write.
func (r *UserRepository) SetVerified(ctx context.Context, id string, verified bool) (bool, error) {
	old, err := r.setFields(ctx, id, "SET is_verified = :verified, updated_at = :updated_at", time.Now().UTC(),
		map[string]types.AttributeValue{
			":verified": &types.AttributeValueMemberBOOL{Value: verified},
		}, types.ReturnValueUpdatedOld)
	if err != nil {
		return false, err
	}

	prior := false
	if attr, ok := old["is_verified"].(*types.AttributeValueMemberBOOL); ok {
		prior = attr.Value
	}

	return prior, nil
}

// setFields runs a single-item update on an existing user. values must not
// contain :updated_at, which is filled from updatedAt.
func (r *UserRepository) setFields(
	ctx context.Context,
	id, expression string,
	updatedAt time.Time,
	values map[string]types.AttributeValue,
	returnValues types.ReturnValue,
) (map[string]types.AttributeValue, error) {
	updatedAtAttr, err := attributevalue.Marshal(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated_at: %w", err)
	}
	values[":updated_at"] = updatedAtAttr

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       itemKey(userPrefix + id),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
		ReturnValues:              returnValues,
	})

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, models.ErrUserNotFound
		}
		r.logger.WithError(err).WithField("user_id", id).Error("Failed to update user in DynamoDB")
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return result.Attributes, nil
}

func (r *UserRepository) guardPut(pk, userID string) *types.Put {
	item := itemKey(pk)
	item["UserID"] = &types.AttributeValueMemberS{Value: userID}

	return &types.Put{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
}

func (r *UserRepository) guardDelete(pk, userID string) *types.Delete {
	return &types.Delete{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(pk),
		ConditionExpression: aws.String("UserID = :user_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
		},
	}
}

// transact runs a write transaction. failures[i] is returned when item i
// fails its condition check.
func (r *UserRepository) transact(ctx context.Context, items []types.TransactWriteItem, failures []error) error {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" && i < len(failures) {
				return failures[i]
			}
		}
	}

	return fmt.Errorf("failed to write user transaction: %w", err)
}
