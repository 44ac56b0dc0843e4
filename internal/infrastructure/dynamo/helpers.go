package dynamo

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// updateExpr is a DynamoDB update expression with its placeholder maps.
type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET expression.
// Fields are emitted in sorted order so the expression is deterministic.
func buildUpdateExpr(updates map[string]interface{}) (updateExpr, error) {
	if len(updates) == 0 {
		return updateExpr{}, fmt.Errorf("no fields to update")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ue := updateExpr{
		Names:  make(map[string]string, len(keys)),
		Values: make(map[string]types.AttributeValue, len(keys)),
	}
	parts := make([]string, 0, len(keys))
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(updates[k])
		if err != nil {
			return updateExpr{}, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		parts = append(parts, nameKey+" = "+valueKey)
	}
	ue.Expr = "SET " + strings.Join(parts, ", ")
	return ue, nil
}

// buildAcknowledgeExpr adds ids to the acknowledged string set and patches
// last_seen.<id> for each of them in one expression. The last_seen map must
// already exist on the item.
func buildAcknowledgeExpr(statuses map[string]string, now time.Time) updateExpr {
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ue := updateExpr{
		Names: map[string]string{
			"#ack": fieldAcknowledged,
			"#ls":  fieldLastSeen,
			"#upd": fieldUpdatedAt,
		},
		Values: map[string]types.AttributeValue{
			":ids": &types.AttributeValueMemberSS{Value: ids},
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	parts := make([]string, 0, len(ids)+1)
	for i, id := range ids {
		nameKey := fmt.Sprintf("#k%d", i)
		valueKey := fmt.Sprintf(":s%d", i)
		ue.Names[nameKey] = id
		ue.Values[valueKey] = &types.AttributeValueMemberS{Value: statuses[id]}
		parts = append(parts, "#ls."+nameKey+" = "+valueKey)
	}
	parts = append(parts, "#upd = :now")
	ue.Expr = "ADD #ack :ids SET " + strings.Join(parts, ", ")
	return ue
}
