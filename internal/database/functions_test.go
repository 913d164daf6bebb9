package database

import (
	"testing"

	"livechat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryInputNewestFirstPage(t *testing.T) {
	c := &DynamoDBClient{}
	input := c.queryInput(
		model.MessagesTable,
		"roomId = :roomId",
		map[string]types.AttributeValue{":roomId": AttrString("r1")},
		QueryOptions{
			IndexName:        model.IndexByRoom,
			FilterExpr:       "senderType = :senderType",
			ScanIndexForward: aws.Bool(false),
			Limit:            25,
		},
	)

	require.NotNil(t, input.Limit)
	assert.Equal(t, int32(25), *input.Limit)
	require.NotNil(t, input.ScanIndexForward)
	assert.False(t, *input.ScanIndexForward)
	assert.Equal(t, model.IndexByRoom, aws.ToString(input.IndexName))
	assert.Equal(t, "senderType = :senderType", aws.ToString(input.FilterExpression))
}

func TestQueryInputWithoutLimit(t *testing.T) {
	c := &DynamoDBClient{}
	input := c.queryInput(model.MessagesTable, "roomId = :roomId", nil, QueryOptions{})

	assert.Nil(t, input.Limit)
	assert.Nil(t, input.IndexName)
	assert.Nil(t, input.ScanIndexForward)
}
