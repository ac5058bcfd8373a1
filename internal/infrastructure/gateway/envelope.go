package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/storefront/cartsync/internal/domain/shared"
)

// unwrapData returns the payload of a {"data": ...} envelope, or body itself
// when it is not one
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		return env.Data
	}
	return trimmed
}

// decodeList decodes either a bare array or an object holding the array
// under field, after removing any data envelope
func decodeList[T any](body []byte, field string) ([]T, error) {
	payload := unwrapData(body)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty response body", shared.ErrNetworkFailure)
	}

	var items []T
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", shared.ErrNetworkFailure, field, err)
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", shared.ErrNetworkFailure, field, err)
	}
	raw, ok := obj[field]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", shared.ErrNetworkFailure, field, err)
	}
	return items, nil
}

func decodeObject(body []byte, v any) error {
	payload := unwrapData(body)
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decode response: %w", shared.ErrNetworkFailure, err)
	}
	return nil
}
