package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalActions converts the executed-action list to JSON TEXT for storage.
// HTML escaping is disabled so descriptions stay readable in the database.
// A nil list is stored as [].
func marshalActions(actions []string) (string, error) {
	if actions == nil {
		actions = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(actions); err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// unmarshalActions parses the stored action list. Empty TEXT is read as an
// empty list.
func unmarshalActions(data string) ([]string, error) {
	actions := []string{}
	if data == "" {
		return actions, nil
	}
	if err := json.Unmarshal([]byte(data), &actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return actions, nil
}
