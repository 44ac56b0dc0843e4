package dynamo

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeItems is an in-memory itemAPI keyed by user_id.
type fakeItems struct {
	items   map[string]map[string]types.AttributeValue
	updates []*dynamodb.UpdateItemInput
	err     error
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key[fieldUserID].(*types.AttributeValueMemberS).Value
}

func (f *fakeItems) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

var assignRe = regexp.MustCompile(`(#\w+(?:\.#\w+)?) = (if_not_exists\(#\w+, (:\w+)\)|:\w+)`)

// UpdateItem applies the ADD and SET forms the repo emits, including
// if_not_exists and one level of nested map paths.
func (f *fakeItems) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, in)
	id := keyOf(in.Key)
	item, ok := f.items[id]
	if !ok {
		item = map[string]types.AttributeValue{fieldUserID: &types.AttributeValueMemberS{Value: id}}
	}
	names, values := in.ExpressionAttributeNames, in.ExpressionAttributeValues

	expr := *in.UpdateExpression
	var addPart, setPart string
	if rest, found := strings.CutPrefix(expr, "ADD "); found {
		addPart, setPart, _ = strings.Cut(rest, " SET ")
	} else {
		setPart = strings.TrimPrefix(expr, "SET ")
	}

	if addPart != "" {
		fields := strings.Fields(addPart)
		attr := names[fields[0]]
		merged := map[string]struct{}{}
		if cur, ok := item[attr].(*types.AttributeValueMemberSS); ok {
			for _, v := range cur.Value {
				merged[v] = struct{}{}
			}
		}
		for _, v := range values[fields[1]].(*types.AttributeValueMemberSS).Value {
			merged[v] = struct{}{}
		}
		set := make([]string, 0, len(merged))
		for v := range merged {
			set = append(set, v)
		}
		sort.Strings(set)
		item[attr] = &types.AttributeValueMemberSS{Value: set}
	}

	for _, m := range assignRe.FindAllStringSubmatch(setPart, -1) {
		path, rhs := strings.Split(m[1], "."), m[2]
		if m[3] != "" {
			if _, exists := item[names[path[0]]]; exists {
				continue
			}
			rhs = m[3]
		}
		if len(path) == 1 {
			item[names[path[0]]] = values[rhs]
			continue
		}
		parent, ok := item[names[path[0]]].(*types.AttributeValueMemberM)
		if !ok {
			return nil, errors.New("ValidationException: document path invalid for update")
		}
		parent.Value[names[path[1]]] = values[rhs]
	}
	f.items[id] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeItems) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestRepo() (*ReadStateRepo, *fakeItems) {
	api := newFakeItems()
	repo := NewReadStateRepo(api, "read_states", nil)
	repo.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return repo, api
}

func TestReadStateRepo_LoadMissingRowIsEmpty(t *testing.T) {
	repo, _ := newTestRepo()
	st, err := repo.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, st.Acknowledged)
	assert.Empty(t, st.LastSeen)
}

func TestReadStateRepo_ReplaceLastSeenKeepsAcknowledged(t *testing.T) {
	ctx := context.Background()
	repo, api := newTestRepo()
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"booking-1": "Pending"}))
	require.NoError(t, repo.ReplaceLastSeen(ctx, "u1", map[string]string{"booking-1": "Confirmed", "student-2": "Pending"}))

	st, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, st.Acknowledged, "booking-1")
	assert.Equal(t, map[string]string{"booking-1": "Confirmed", "student-2": "Pending"}, st.LastSeen)

	last := api.updates[len(api.updates)-1]
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1", *last.UpdateExpression)
	assert.Equal(t, fieldLastSeen, last.ExpressionAttributeNames["#f0"])
}

func TestReadStateRepo_AcknowledgeMerges(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo()
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"booking-1": "Pending"}))
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"student-2": "Approved", "booking-1": "Confirmed"}))

	st, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, st.Acknowledged, 2)
	assert.Equal(t, "Confirmed", st.LastSeen["booking-1"])
}

func TestReadStateRepo_UnreadableRowIsEmpty(t *testing.T) {
	repo, api := newTestRepo()
	api.items["u1"] = map[string]types.AttributeValue{
		fieldUserID:   &types.AttributeValueMemberS{Value: "u1"},
		fieldLastSeen: &types.AttributeValueMemberN{Value: "12"},
	}
	st, err := repo.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, st.LastSeen)
}

func TestReadStateRepo_ClearDeletesRow(t *testing.T) {
	ctx := context.Background()
	repo, api := newTestRepo()
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"booking-1": "Pending"}))
	require.NoError(t, repo.Clear(ctx, "u1"))
	assert.Empty(t, api.items)
}

func TestReadStateRepo_ClientErrorsAreWrapped(t *testing.T) {
	repo, api := newTestRepo()
	api.err = errors.New("throttled")
	_, err := repo.Load(context.Background(), "u1")
	assert.ErrorContains(t, err, "get read state: throttled")
	assert.ErrorContains(t, repo.ReplaceLastSeen(context.Background(), "u1", nil), "throttled")
}

func TestReadStateRepo_AcknowledgeIsAtomicUpdate(t *testing.T) {
	ctx := context.Background()
	repo, api := newTestRepo()
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"booking-1": "Pending", "student-2": "Approved"}))

	require.Len(t, api.updates, 2)
	assert.Equal(t, "SET #ls = if_not_exists(#ls, :empty)", *api.updates[0].UpdateExpression)
	assert.Equal(t, "ADD #ack :ids SET #ls.#k0 = :s0, #ls.#k1 = :s1, #upd = :now", *api.updates[1].UpdateExpression)
	assert.Equal(t, "booking-1", api.updates[1].ExpressionAttributeNames["#k0"])
	assert.Equal(t, []string{"booking-1", "student-2"},
		api.updates[1].ExpressionAttributeValues[":ids"].(*types.AttributeValueMemberSS).Value)
}

func TestReadStateRepo_AcknowledgeKeepsConcurrentLastSeen(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo()
	other := NewReadStateRepo(repo.client, "read_states", nil)

	require.NoError(t, repo.ReplaceLastSeen(ctx, "u1", map[string]string{"booking-1": "Pending", "booking-3": "Pending"}))
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"booking-1": "Pending"}))
	require.NoError(t, other.Acknowledge(ctx, "u1", map[string]string{"booking-3": "Pending"}))

	st, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, st.Acknowledged, 2)
	assert.True(t, st.IsRead("booking-1", "Pending"))
	assert.True(t, st.IsRead("booking-3", "Pending"))
}

func TestReadStateRepo_AcknowledgeAfterClearRecreatesRow(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo()
	require.NoError(t, repo.Clear(ctx, "u1"))
	require.NoError(t, repo.Acknowledge(ctx, "u1", map[string]string{"student-2": "Approved"}))

	st, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.IsRead("student-2", "Approved"))
}

func TestChunkStatuses_SplitsBySize(t *testing.T) {
	statuses := map[string]string{"a": "1", "b": "2", "c": "3"}
	chunks := chunkStatuses(statuses, 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, chunks[0])
	assert.Equal(t, map[string]string{"c": "3"}, chunks[1])
}
