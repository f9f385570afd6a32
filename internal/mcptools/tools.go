package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

func registerTools(s *server.MCPServer, factory *session.Factory, log *logger.Logger) {
	// Get Session Metadata tool
	s.AddTool(
		mcp.NewTool("get_session_metadata",
			mcp.WithDescription("Get metadata stored on a session. Returns all metadata, or only the requested keys."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to read metadata from"),
			),
			mcp.WithArray("keys",
				mcp.Description("Metadata keys to read (optional, all keys when omitted)"),
			),
		),
		getMetadataHandler(factory, log),
	)

	// Update Session Metadata tool
	s.AddTool(
		mcp.NewTool("update_session_metadata",
			mcp.WithDescription("Set or update metadata key/value pairs on a session. Existing keys are overwritten, others are kept."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to update"),
			),
			mcp.WithObject("metadata",
				mcp.Required(),
				mcp.Description("Key/value pairs to merge into the session metadata"),
			),
		),
		updateMetadataHandler(factory, log),
	)

	// Delete Session Metadata tool
	s.AddTool(
		mcp.NewTool("delete_session_metadata",
			mcp.WithDescription("Delete metadata keys from a session"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to update"),
			),
			mcp.WithArray("keys",
				mcp.Required(),
				mcp.Description("Metadata keys to delete"),
			),
		),
		deleteMetadataHandler(factory, log),
	)

	// Add Session Feedback tool
	s.AddTool(
		mcp.NewTool("add_session_feedback",
			mcp.WithDescription("Record user feedback on a session"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to attach the feedback to"),
			),
			mcp.WithString("rating",
				mcp.Description("Feedback rating: up or down (optional)"),
			),
			mcp.WithString("comment",
				mcp.Description("Free-text feedback comment (optional)"),
			),
		),
		addFeedbackHandler(factory, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 4))
}

func getMetadataHandler(factory *session.Factory, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		keys, err := parseKeysArg(req.GetArguments()["keys"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse keys: %v", err)), nil
		}

		manager, err := factory.CreateSessionManager(ctx, sessionID)
		if err != nil {
			log.Error("failed to create session manager", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open session: %v", err)), nil
		}

		metadata, err := manager.GetMetadata(ctx)
		if err != nil {
			log.Error("failed to read metadata", zap.String("session_id", sessionID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read metadata: %v", err)), nil
		}
		if metadata == nil {
			return mcp.NewToolResultText("No metadata found for this session"), nil
		}

		if len(keys) > 0 {
			selected := make(map[string]interface{})
			var missing []string
			for _, key := range keys {
				if value, ok := metadata[key]; ok {
					selected[key] = value
				} else {
					missing = append(missing, key)
				}
			}
			if len(selected) == 0 {
				return mcp.NewToolResultText("No metadata found for keys: " + strings.Join(keys, ", ")), nil
			}
			response := "Metadata retrieved: " + formatJSON(selected)
			if len(missing) > 0 {
				response += "\nKeys not found: " + strings.Join(missing, ", ")
			}
			return mcp.NewToolResultText(response), nil
		}

		if len(metadata) == 0 {
			return mcp.NewToolResultText("No metadata stored in session"), nil
		}
		return mcp.NewToolResultText("All metadata: " + formatJSON(metadata)), nil
	}
}

func updateMetadataHandler(factory *session.Factory, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		metadata, err := parseMetadataArg(req.GetArguments()["metadata"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse metadata: %v", err)), nil
		}
		if len(metadata) == 0 {
			return mcp.NewToolResultError("metadata must contain at least one key"), nil
		}

		manager, err := factory.CreateSessionManager(ctx, sessionID)
		if err != nil {
			log.Error("failed to create session manager", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open session: %v", err)), nil
		}

		if err := manager.UpdateMetadata(ctx, metadata); err != nil {
			log.Error("failed to update metadata", zap.String("session_id", sessionID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to update metadata: %v", err)), nil
		}
		return mcp.NewToolResultText("Successfully updated metadata fields: " + strings.Join(sortedMapKeys(metadata), ", ")), nil
	}
}

func deleteMetadataHandler(factory *session.Factory, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		keys, err := parseKeysArg(req.GetArguments()["keys"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse keys: %v", err)), nil
		}
		if len(keys) == 0 {
			return mcp.NewToolResultError("keys must contain at least one entry"), nil
		}

		manager, err := factory.CreateSessionManager(ctx, sessionID)
		if err != nil {
			log.Error("failed to create session manager", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open session: %v", err)), nil
		}

		if err := manager.DeleteMetadata(ctx, keys); err != nil {
			log.Error("failed to delete metadata", zap.String("session_id", sessionID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to delete metadata: %v", err)), nil
		}
		return mcp.NewToolResultText("Successfully deleted metadata fields: " + strings.Join(keys, ", ")), nil
	}
}

func addFeedbackHandler(factory *session.Factory, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entry := buildFeedbackEntry(req.GetString("rating", ""), req.GetString("comment", ""))
		if entry.Rating == nil && entry.Comment == "" {
			return mcp.NewToolResultError("feedback requires a rating or a comment"), nil
		}

		manager, err := factory.CreateSessionManager(ctx, sessionID)
		if err != nil {
			log.Error("failed to create session manager", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open session: %v", err)), nil
		}

		if err := manager.AddFeedback(ctx, entry); err != nil {
			log.Error("failed to add feedback", zap.String("session_id", sessionID), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to add feedback: %v", err)), nil
		}
		return mcp.NewToolResultText("Successfully recorded feedback with rating: " + entry.RatingValue()), nil
	}
}

// buildFeedbackEntry assembles the stored entry; an empty rating is kept
// absent rather than stored as "".
func buildFeedbackEntry(rating, comment string) *session.FeedbackEntry {
	entry := &session.FeedbackEntry{
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if rating != "" {
		entry.Rating = &rating
	}
	return entry
}

// parseMetadataArg accepts a structured map or a JSON object string; models
// sometimes send the latter.
func parseMetadataArg(value interface{}) (map[string]interface{}, error) {
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

// parseKeysArg accepts a structured string list or a JSON array string.
func parseKeysArg(value interface{}) ([]string, error) {
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

func formatJSON(value map[string]interface{}) string {
	out, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(out)
}

func sortedMapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
