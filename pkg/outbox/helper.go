package outbox

import (
	"encoding/json"
	"fmt"
)

// NewEvent 构造待写入的 pending 事件
func NewEvent(aggregateType string, aggregateID int, routingKey string, payload interface{}) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}

	id := int64(aggregateID)
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   &id,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	}, nil
}
