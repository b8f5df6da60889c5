package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDynamoDB struct {
	mock.Mock
}

func (m *MockDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func sampleEvent() Event {
	return Event{
		RunID:     "run-1",
		ReceiptID: "rcpt-1",
		Sequence:  4,
		Stage:     "analyzing",
		Message:   "ELA complete",
		Progress:  30,
		Details:   Details{"detector": String("ela_analysis"), "regions": Int(2), "degraded": Bool(true)},
		Timestamp: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDynamoSink_NoTable(t *testing.T) {
	sink := NewDynamoSink(nil, "", quietLogger())
	assert.NoError(t, sink.Publish(context.Background(), sampleEvent()))
}

func TestDynamoSink_FlatUpdate(t *testing.T) {
	mockDB := new(MockDynamoDB)
	sink := NewDynamoSink(mockDB, "receipts", quietLogger())

	mockDB.On("UpdateItem", mock.Anything, mock.MatchedBy(func(input *dynamodb.UpdateItemInput) bool {
		if *input.TableName != "receipts" {
			return false
		}
		key, ok := input.Key["receipt_id"].(*types.AttributeValueMemberS)
		if !ok || key.Value != "rcpt-1" {
			return false
		}
		names := map[string]bool{}
		for _, n := range input.ExpressionAttributeNames {
			names[n] = true
		}
		for _, want := range []string{"progress_stage", "progress_percentage", "progress_detail_detector", "progress_detail_regions", "progress_detail_degraded", "last_updated"} {
			if !names[want] {
				return false
			}
		}
		for _, v := range input.ExpressionAttributeValues {
			switch v.(type) {
			case *types.AttributeValueMemberS, *types.AttributeValueMemberN, *types.AttributeValueMemberBOOL:
			default:
				return false
			}
		}
		return input.ConditionExpression != nil
	}), mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil)

	assert.NoError(t, sink.Publish(context.Background(), sampleEvent()))
	mockDB.AssertExpectations(t)
}

func TestDynamoSink_StaleRedeliveryIsNotAnError(t *testing.T) {
	mockDB := new(MockDynamoDB)
	sink := NewDynamoSink(mockDB, "receipts", quietLogger())

	mockDB.On("UpdateItem", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("stale")})

	assert.NoError(t, sink.Publish(context.Background(), sampleEvent()))
}

func TestDynamoSink_Error(t *testing.T) {
	mockDB := new(MockDynamoDB)
	sink := NewDynamoSink(mockDB, "receipts", quietLogger())

	mockDB.On("UpdateItem", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("aws error"))

	err := sink.Publish(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update progress in DynamoDB")
}
