package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/repository/migrate"
)

// TableNames names the tables the repositories use.
type TableNames struct {
	Items   string
	Results string
}

type DynamoDb struct {
	Client *dynamodb.Client
	Tables TableNames
}

func NewDatabase(awsConfig aws.Config, tables TableNames) (*DynamoDb, error) {
	client := dynamodb.NewFromConfig(awsConfig)
	if client == nil {
		log.Fatal("Failed to create DynamoDB client")
	}

	if tables.Items == "" {
		tables.Items = migrate.ItemsTableName
	}
	if tables.Results == "" {
		tables.Results = migrate.HealthCheckResultsTableName
	}

	return &DynamoDb{
		Client: client,
		Tables: tables,
	}, nil
}

func (d *DynamoDb) migrations() []migrate.Migration {
	return migrate.All(d.Tables.Items, d.Tables.Results)
}

// MigrateDb creates every table that does not exist yet.
func (d *DynamoDb) MigrateDb(ctx context.Context) error {
	return MigrateUp(ctx, d.Client, d.migrations())
}

// MigrateDown drops every table, newest first.
func (d *DynamoDb) MigrateDown(ctx context.Context) error {
	return MigrateDown(ctx, d.Client, d.migrations())
}

func MigrateUp(ctx context.Context, client migrate.API, migrations []migrate.Migration) error {
	for _, m := range migrations {
		exists, err := tableExists(ctx, client, m.TableName())
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", m.TableName(), err)
		}
		if exists {
			log.WithField("table", m.TableName()).Debug("table already exists, skipping migration")
			continue
		}

		log.WithFields(log.Fields{
			"version": m.Version(),
			"table":   m.TableName(),
		}).Info("applying migration")
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version(), err)
		}
	}
	return nil
}

func MigrateDown(ctx context.Context, client migrate.API, migrations []migrate.Migration) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		exists, err := tableExists(ctx, client, m.TableName())
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", m.TableName(), err)
		}
		if !exists {
			continue
		}

		log.WithFields(log.Fields{
			"version": m.Version(),
			"table":   m.TableName(),
		}).Info("reverting migration")
		if err := m.Down(ctx, client); err != nil {
			return fmt.Errorf("failed to revert migration %s: %w", m.Version(), err)
		}
	}
	return nil
}

func tableExists(ctx context.Context, client migrate.API, table string) (bool, error) {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return true, nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}
