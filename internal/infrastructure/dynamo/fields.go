package dynamo

// DynamoDB attribute names used in key and update expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUserID       = "user_id"
	fieldAcknowledged = "acknowledged"
	fieldLastSeen     = "last_seen"
	fieldUpdatedAt    = "updated_at"
)
