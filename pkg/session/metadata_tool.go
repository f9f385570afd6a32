package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tool identity as registered with agent runtimes.
const (
	MetadataToolName        = "manage_metadata"
	MetadataToolDescription = "Manage session metadata with get, set/update, or delete operations."
)

// MetadataTool adapts a manager's metadata operations into a tool callable
// for agents. All outcomes, including failures, are returned as
// human-readable strings so the model can react to them.
type MetadataTool struct {
	manager *Manager
}

// MetadataTool returns the tool adapter bound to this manager's session.
func (m *Manager) MetadataTool() *MetadataTool {
	return &MetadataTool{manager: m}
}

// Name returns the registered tool name.
func (t *MetadataTool) Name() string { return MetadataToolName }

// Description returns the tool description shown to the model.
func (t *MetadataTool) Description() string { return MetadataToolDescription }

// InputSchema returns the JSON schema for the tool arguments.
func (t *MetadataTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"get", "set", "update", "delete"},
				"description": "Operation to perform on the session metadata",
			},
			"metadata": map[string]interface{}{
				"type":        "object",
				"description": "Key/value pairs to set or update (required for set/update)",
			},
			"keys": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Metadata keys to read or delete",
			},
		},
		"required": []string{"action"},
	}
}

// Call executes the tool. Models sometimes pass metadata or keys as
// JSON-encoded strings instead of structured values; both forms are
// accepted.
func (t *MetadataTool) Call(ctx context.Context, args map[string]interface{}) string {
	action, _ := args["action"].(string)

	switch action {
	case "get":
		keys, err := parseToolKeys(args["keys"])
		if err != nil {
			return "Error: invalid JSON in keys parameter"
		}
		return t.get(ctx, keys)

	case "set", "update":
		metadata, err := parseToolMetadata(args["metadata"])
		if err != nil {
			return "Error: invalid JSON in metadata parameter"
		}
		if len(metadata) == 0 {
			return "Error: metadata dictionary required for set/update action"
		}
		if err := t.manager.UpdateMetadata(ctx, metadata); err != nil {
			return "Error managing metadata: " + err.Error()
		}
		return "Successfully updated metadata fields: " + strings.Join(sortedKeys(metadata), ", ")

	case "delete":
		keys, err := parseToolKeys(args["keys"])
		if err != nil {
			return "Error: invalid JSON in keys parameter"
		}
		if len(keys) == 0 {
			return "Error: keys list required for delete action"
		}
		if err := t.manager.DeleteMetadata(ctx, keys); err != nil {
			return "Error managing metadata: " + err.Error()
		}
		return "Successfully deleted metadata fields: " + strings.Join(keys, ", ")

	default:
		return fmt.Sprintf("Error: Unknown action '%s'. Use 'get', 'set', 'update', or 'delete'", action)
	}
}

func (t *MetadataTool) get(ctx context.Context, keys []string) string {
	metadata, err := t.manager.GetMetadata(ctx)
	if err != nil {
		return "Error managing metadata: " + err.Error()
	}
	if metadata == nil {
		return "No metadata found for this session"
	}

	if len(keys) > 0 {
		retrieved := make(map[string]interface{})
		var missing []string
		for _, key := range keys {
			if value, ok := metadata[key]; ok {
				retrieved[key] = value
			} else {
				missing = append(missing, key)
			}
		}
		if len(retrieved) == 0 {
			return "No metadata found for keys: " + strings.Join(keys, ", ")
		}
		response := "Metadata retrieved: " + marshalToolJSON(retrieved)
		if len(missing) > 0 {
			response += "\nKeys not found: " + strings.Join(missing, ", ")
		}
		return response
	}

	if len(metadata) == 0 {
		return "No metadata stored in session"
	}
	return "All metadata: " + marshalToolJSON(metadata)
}

// parseToolMetadata accepts a structured map or a JSON object string.
func parseToolMetadata(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported metadata type %T", value)
	}
}

// parseToolKeys accepts a structured string list or a JSON array string.
func parseToolKeys(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			key, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported key type %T", item)
			}
			keys = append(keys, key)
		}
		return keys, nil
	case string:
		var parsed []string
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported keys type %T", value)
	}
}

func marshalToolJSON(value map[string]interface{}) string {
	out, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(out)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
