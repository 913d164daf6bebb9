package database

import (
	"context"
	"errors"
	"fmt"

	"livechat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IndexSpec is a global secondary index projecting all attributes.
type IndexSpec struct {
	Name     string
	HashKey  string
	RangeKey string
}

type TableSpec struct {
	Name    string
	HashKey string
	Indexes []IndexSpec
}

// TableStatus is a row of the tables report.
type TableStatus struct {
	Name      string
	Status    string
	ItemCount int64
	Created   bool
}

// Schema lists every table the store reads or writes. Key attributes are
// strings throughout.
func Schema() []TableSpec {
	byRoom := IndexSpec{Name: model.IndexByRoom, HashKey: "roomId"}
	return []TableSpec{
		{Name: model.AgentsTable, HashKey: "userId"},
		{
			Name:    model.RoomsTable,
			HashKey: "roomId",
			Indexes: []IndexSpec{{Name: model.IndexByVisitor, HashKey: "visitorId", RangeKey: "ts"}},
		},
		{
			Name:    model.MessagesTable,
			HashKey: "messageId",
			Indexes: []IndexSpec{{Name: model.IndexByRoom, HashKey: "roomId", RangeKey: "createdAt"}},
		},
		{Name: model.SubscriptionsTable, HashKey: "pk", Indexes: []IndexSpec{byRoom}},
		{
			Name:    model.VisitorsTable,
			HashKey: "visitorId",
			Indexes: []IndexSpec{{Name: model.IndexByUsername, HashKey: "username"}},
		},
		{Name: model.InquiriesTable, HashKey: "inquiryId", Indexes: []IndexSpec{byRoom}},
		{Name: model.ExternalMessagesTable, HashKey: "pk", Indexes: []IndexSpec{byRoom}},
		{Name: model.MergeJournalTable, HashKey: "closeRoomId"},
	}
}

func (c *DynamoDBClient) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	var start *string
	for {
		out, err := c.svc.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, out.TableNames...)
		if out.LastEvaluatedTableName == nil {
			return names, nil
		}
		start = out.LastEvaluatedTableName
	}
}

func (c *DynamoDBClient) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := c.svc.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("describe table %s: %w", table, ErrItemNotFound)
		}
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	return out.Table, nil
}

// EnsureTables creates the missing tables of Schema with on-demand billing.
// Existing tables are reported as they are, their indexes are not diffed.
func (c *DynamoDBClient) EnsureTables(ctx context.Context) ([]TableStatus, error) {
	existing, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	report := make([]TableStatus, 0, len(Schema()))
	for _, spec := range Schema() {
		if !have[spec.Name] {
			if _, err := c.svc.CreateTable(ctx, createTableInput(spec)); err != nil {
				return report, fmt.Errorf("create table %s: %w", spec.Name, err)
			}
			report = append(report, TableStatus{Name: spec.Name, Status: string(types.TableStatusCreating), Created: true})
			continue
		}

		desc, err := c.DescribeTable(ctx, spec.Name)
		if err != nil {
			return report, err
		}
		report = append(report, TableStatus{
			Name:      spec.Name,
			Status:    string(desc.TableStatus),
			ItemCount: aws.ToInt64(desc.ItemCount),
		})
	}
	return report, nil
}

func createTableInput(spec TableSpec) *dynamodb.CreateTableInput {
	attrs := map[string]bool{spec.HashKey: true}
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(spec.Name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(spec.HashKey), KeyType: types.KeyTypeHash},
		},
	}

	for _, idx := range spec.Indexes {
		keys := []types.KeySchemaElement{{AttributeName: aws.String(idx.HashKey), KeyType: types.KeyTypeHash}}
		attrs[idx.HashKey] = true
		if idx.RangeKey != "" {
			keys = append(keys, types.KeySchemaElement{AttributeName: aws.String(idx.RangeKey), KeyType: types.KeyTypeRange})
			attrs[idx.RangeKey] = true
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keys,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	for name := range attrs {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeTypeS,
		})
	}
	return input
}
