package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zzenonn/zdav/internal/domain"
	"github.com/zzenonn/zdav/internal/repository/migrate"
)

// ResultsAPI is the subset of the DynamoDB client the audit log uses.
type ResultsAPI interface {
	dynamodb.ScanAPIClient
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// HealthCheckRepository appends to and reads the health check audit log.
type HealthCheckRepository struct {
	client    ResultsAPI
	tableName string
}

func NewHealthCheckRepository(client ResultsAPI, tableName string) *HealthCheckRepository {
	return &HealthCheckRepository{
		client:    client,
		tableName: tableName,
	}
}

func (repo *HealthCheckRepository) AddResult(ctx context.Context, result domain.HealthCheckResult) error {
	resultMap, err := attributevalue.MarshalMap(result)
	if err != nil {
		return fmt.Errorf("failed to marshal health check result: %w", err)
	}

	if _, err := repo.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item:      resultMap,
	}); err != nil {
		return fmt.Errorf("failed to add health check result: %w", err)
	}
	return nil
}

// ListActionNeededItemIDs returns the ids of items with at least one result
// that asked for manual action.
func (repo *HealthCheckRepository) ListActionNeededItemIDs(ctx context.Context) (map[string]struct{}, error) {
	paginator := dynamodb.NewScanPaginator(repo.client, &dynamodb.ScanInput{
		TableName:            aws.String(repo.tableName),
		FilterExpression:     aws.String("repair_status = :status"),
		ProjectionExpression: aws.String("item_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberN{Value: strconv.Itoa(int(domain.RepairActionNeeded))},
		},
	})

	ids := make(map[string]struct{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health check results: %w", err)
		}
		for _, row := range page.Items {
			var entry struct {
				ItemID string `dynamodbav:"item_id"`
			}
			if err := attributevalue.UnmarshalMap(row, &entry); err != nil {
				return nil, fmt.Errorf("failed to unmarshal health check result: %w", err)
			}
			ids[entry.ItemID] = struct{}{}
		}
	}
	return ids, nil
}

// ListResults returns an item's results, oldest first.
func (repo *HealthCheckRepository) ListResults(ctx context.Context, itemID string) ([]domain.HealthCheckResult, error) {
	paginator := dynamodb.NewQueryPaginator(repo.client, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		IndexName:              aws.String(migrate.ItemIDIndex),
		KeyConditionExpression: aws.String("item_id = :item_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":item_id": &types.AttributeValueMemberS{Value: itemID},
		},
		ScanIndexForward: aws.Bool(true),
	})

	var results []domain.HealthCheckResult
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query health check results: %w", err)
		}
		var batch []domain.HealthCheckResult
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal health check results: %w", err)
		}
		results = append(results, batch...)
	}
	return results, nil
}
