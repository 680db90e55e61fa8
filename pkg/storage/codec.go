package storage

import (
	"encoding/json"
	"fmt"

	"github.com/rhuss/alpha/pkg/api"
)

// MarshalToolCalls encodes a message's tool exchanges for a document
// column. An empty list encodes as "[]".
func MarshalToolCalls(calls []api.ToolExchange) ([]byte, error) {
	if len(calls) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool calls: %w", err)
	}
	return data, nil
}

// UnmarshalToolCalls decodes a column written by MarshalToolCalls. Empty
// input and "[]" yield nil.
func UnmarshalToolCalls(data []byte) ([]api.ToolExchange, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var calls []api.ToolExchange
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return calls, nil
}
