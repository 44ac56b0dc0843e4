package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/domain"
)

// itemAPI is the subset of *dynamodb.Client the read-state repo uses.
type itemAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// readStateItem is one row of the read_states table. PK: user_id.
type readStateItem struct {
	UserID       string            `dynamodbav:"user_id"`
	Acknowledged []string          `dynamodbav:"acknowledged,stringset"`
	LastSeen     map[string]string `dynamodbav:"last_seen"`
	UpdatedAt    time.Time         `dynamodbav:"updated_at"`
}

// ReadStateRepo provides typed DynamoDB operations for the read_states table.
type ReadStateRepo struct {
	client    itemAPI
	tableName string
	logger    *zap.Logger
	now       func() time.Time
}

func NewReadStateRepo(client itemAPI, tableName string, logger *zap.Logger) *ReadStateRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateRepo{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// Load reads a user's read state. A missing row is empty state, and so is a
// row that no longer unmarshals.
func (r *ReadStateRepo) Load(ctx context.Context, userID string) (domain.ReadState, error) {
	st := domain.NewReadState()
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return st, fmt.Errorf("get read state: %w", err)
	}
	if out.Item == nil {
		return st, nil
	}
	item, err := fromAttributes(out.Item)
	if err != nil {
		r.logger.Warn("discarding unreadable read state",
			zap.String("user_id", userID), zap.Error(err))
		return st, nil
	}
	for _, id := range item.Acknowledged {
		st.Acknowledged[id] = struct{}{}
	}
	for id, status := range item.LastSeen {
		st.LastSeen[id] = status
	}
	return st, nil
}

// ReplaceLastSeen overwrites the last_seen map in full, leaving the
// acknowledged list untouched. Creates the row when absent.
func (r *ReadStateRepo) ReplaceLastSeen(ctx context.Context, userID string, snapshot map[string]string) error {
	if snapshot == nil {
		snapshot = map[string]string{}
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldLastSeen:  snapshot,
		fieldUpdatedAt: r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return fmt.Errorf("replace last seen: %w", err)
	}
	return nil
}

// ackChunk bounds the ids per UpdateItem so the expression stays well under
// DynamoDB's 4 KB expression limit.
const ackChunk = 100

// Acknowledge adds statuses to the row with atomic UpdateItem calls, so
// replicas sharing the table never drop each other's acknowledgements.
func (r *ReadStateRepo) Acknowledge(ctx context.Context, userID string, statuses map[string]string) error {
	if len(statuses) == 0 {
		return nil
	}
	key := strKey(fieldUserID, userID)

	// Nested last_seen paths can only be set once the map exists.
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      key,
		UpdateExpression:         aws.String("SET #ls = if_not_exists(#ls, :empty)"),
		ExpressionAttributeNames: map[string]string{"#ls": fieldLastSeen},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		},
	})
	if err != nil {
		return fmt.Errorf("init last seen: %w", err)
	}

	now := r.now().UTC()
	for _, chunk := range chunkStatuses(statuses, ackChunk) {
		ue := buildAcknowledgeExpr(chunk, now)
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(r.tableName),
			Key:                       key,
			UpdateExpression:          aws.String(ue.Expr),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		})
		if err != nil {
			return fmt.Errorf("acknowledge: %w", err)
		}
	}
	return nil
}

func chunkStatuses(statuses map[string]string, size int) []map[string]string {
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []map[string]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		chunk := make(map[string]string, n)
		for _, id := range ids[:n] {
			chunk[id] = statuses[id]
		}
		out = append(out, chunk)
		ids = ids[n:]
	}
	return out
}

func (r *ReadStateRepo) Clear(ctx context.Context, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldUserID, userID),
	})
	if err != nil {
		return fmt.Errorf("delete read state: %w", err)
	}
	return nil
}

func fromAttributes(av map[string]types.AttributeValue) (readStateItem, error) {
	var item readStateItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return readStateItem{}, err
	}
	return item, nil
}
