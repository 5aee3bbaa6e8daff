// Package migrate holds the DynamoDB table migrations.
package migrate

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// API is the subset of the DynamoDB client migrations use.
type API interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Migration creates or drops one table.
type Migration interface {
	Version() string
	TableName() string
	Up(ctx context.Context, client API) error
	Down(ctx context.Context, client API) error
}

// All returns every migration in the order they apply.
func All(itemsTable, resultsTable string) []Migration {
	return []Migration{
		&CreateItemsTable{Table: itemsTable},
		&CreateHealthCheckResultsTable{Table: resultsTable},
	}
}
