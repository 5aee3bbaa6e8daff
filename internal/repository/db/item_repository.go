package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// ItemsAPI is the subset of the DynamoDB client the item repository uses.
type ItemsAPI interface {
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ItemRepository manages DynamoDB interactions for segmented items.
type ItemRepository struct {
	client    ItemsAPI
	tableName string
}

func NewItemRepository(client ItemsAPI, tableName string) *ItemRepository {
	return &ItemRepository{
		client:    client,
		tableName: tableName,
	}
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// PutItem creates or replaces an item.
func (repo *ItemRepository) PutItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	itemMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return domain.Item{}, fmt.Errorf("failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item:      itemMap,
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return domain.Item{}, fmt.Errorf("failed to put item: %w", err)
	}

	return item, nil
}

func (repo *ItemRepository) GetItem(ctx context.Context, id string) (domain.Item, error) {
	result, err := repo.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key:       itemKey(id),
	})
	if err != nil {
		return domain.Item{}, zerrors.FetchingResourceError("item", err)
	}

	if result.Item == nil {
		return domain.Item{}, fmt.Errorf("%w: %s", zerrors.ErrItemNotFound, id)
	}

	var item domain.Item
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return domain.Item{}, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

// ListCheckableItems scans every item whose type takes part in health checks.
func (repo *ItemRepository) ListCheckableItems(ctx context.Context) ([]domain.Item, error) {
	values := make(map[string]types.AttributeValue, len(domain.CheckableTypes))
	placeholders := make([]string, 0, len(domain.CheckableTypes))
	for i, t := range domain.CheckableTypes {
		key := fmt.Sprintf(":t%d", i)
		values[key] = &types.AttributeValueMemberS{Value: string(t)}
		placeholders = append(placeholders, key)
	}

	paginator := dynamodb.NewScanPaginator(repo.client, &dynamodb.ScanInput{
		TableName:                 aws.String(repo.tableName),
		FilterExpression:          aws.String("#type IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames:  map[string]string{"#type": "type"},
		ExpressionAttributeValues: values,
	})

	var items []domain.Item
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan items: %w", err)
		}

		var batch []domain.Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		items = append(items, batch...)
	}

	return items, nil
}

// UpdateHealthSchedule writes the item's health bookkeeping fields. A nil
// next check removes the attribute, which puts the item at the front of the
// health check queue unless an ActionNeeded result excludes it.
func (repo *ItemRepository) UpdateHealthSchedule(ctx context.Context, item domain.Item) error {
	set := []string{}
	values := map[string]types.AttributeValue{}

	add := func(attr, placeholder string, value any) error {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", attr, err)
		}
		set = append(set, attr+" = "+placeholder)
		values[placeholder] = av
		return nil
	}

	if item.LastHealthCheck != nil {
		if err := add("last_health_check", ":last", *item.LastHealthCheck); err != nil {
			return err
		}
	}
	if item.ReleaseDate != nil {
		if err := add("release_date", ":release", *item.ReleaseDate); err != nil {
			return err
		}
	}
	if item.NextHealthCheck != nil {
		if err := add("next_health_check", ":next", *item.NextHealthCheck); err != nil {
			return err
		}
	}

	expr := ""
	if len(set) > 0 {
		expr = "SET " + strings.Join(set, ", ")
	}
	if item.NextHealthCheck == nil {
		if expr != "" {
			expr += " "
		}
		expr += "REMOVE next_health_check"
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(repo.tableName),
		Key:                 itemKey(item.ID),
		UpdateExpression:    aws.String(expr),
		ConditionExpression: aws.String("attribute_exists(id)"),
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}

	if _, err := repo.client.UpdateItem(ctx, input); err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return fmt.Errorf("%w: %s", zerrors.ErrItemNotFound, item.ID)
		}
		return fmt.Errorf("failed to update health schedule: %w", err)
	}
	return nil
}

func (repo *ItemRepository) DeleteItem(ctx context.Context, id string) error {
	_, err := repo.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(repo.tableName),
		Key:       itemKey(id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}
