package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of the DynamoDB client the sink needs.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoSink mirrors the latest progress of a receipt onto its item as
// top-level progress_* attributes. The store rejects nested updates, so
// every attribute is a scalar. Stale redeliveries are discarded by a
// condition on progress_sequence.
type DynamoSink struct {
	client    DynamoDBAPI
	tableName string
	keyName   string
	logger    *logrus.Logger
}

// NewDynamoSink creates a DynamoDB sink keyed by receipt_id.
func NewDynamoSink(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DynamoSink{
		client:    client,
		tableName: tableName,
		keyName:   "receipt_id",
		logger:    logger,
	}
}

func (s *DynamoSink) Name() string { return "dynamodb" }

func (s *DynamoSink) Publish(ctx context.Context, event Event) error {
	if s.tableName == "" {
		s.logger.WithField("run_id", event.RunID).Debug("DynamoDB table not configured, skipping progress update")
		return nil
	}

	key := event.ReceiptID
	if key == "" {
		key = event.RunID
	}

	input := s.updateInput(key, event)
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("failed to update progress in DynamoDB for receipt %s: %w", key, err)
	}
	return nil
}

func (s *DynamoSink) updateInput(key string, event Event) *dynamodb.UpdateItemInput {
	ts := event.Timestamp.UTC().Format(TimestampFormat)
	attrs := []struct {
		name  string
		value types.AttributeValue
	}{
		{"progress_run_id", &types.AttributeValueMemberS{Value: event.RunID}},
		{"progress_sequence", &types.AttributeValueMemberN{Value: strconv.FormatInt(event.Sequence, 10)}},
		{"progress_stage", &types.AttributeValueMemberS{Value: event.Stage}},
		{"progress_message", &types.AttributeValueMemberS{Value: event.Message}},
		{"progress_percentage", &types.AttributeValueMemberN{Value: strconv.Itoa(event.Progress)}},
		{"progress_terminal", &types.AttributeValueMemberBOOL{Value: event.Terminal}},
		{"progress_timestamp", &types.AttributeValueMemberS{Value: ts}},
		{"last_updated", &types.AttributeValueMemberS{Value: ts}},
	}
	for _, k := range event.DetailKeys() {
		attrs = append(attrs, struct {
			name  string
			value types.AttributeValue
		}{"progress_" + DetailPrefix + k, attributeValue(event.Details[k])})
	}

	names := make(map[string]string, len(attrs))
	values := make(map[string]types.AttributeValue, len(attrs)+1)
	expr := "SET "
	for i, a := range attrs {
		n, v := fmt.Sprintf("#a%d", i), fmt.Sprintf(":v%d", i)
		names[n] = a.name
		values[v] = a.value
		if i > 0 {
			expr += ", "
		}
		expr += n + " = " + v
	}
	// #a0 is progress_run_id and #a1 progress_sequence.
	condition := "attribute_not_exists(#a1) OR #a0 <> :v0 OR #a1 < :v1"

	return &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			s.keyName: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

func attributeValue(v Value) types.AttributeValue {
	switch v.Kind() {
	case KindInt, KindFloat:
		return &types.AttributeValueMemberN{Value: v.String()}
	case KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.b}
	default:
		return &types.AttributeValueMemberS{Value: v.s}
	}
}
