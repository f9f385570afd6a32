// Package events provides event types and utilities for the sessiontrail event system.
package events

// Event types for session lifecycle
const (
	SessionCreated = "session.created"
)

// Event types for session metadata
const (
	SessionMetadataUpdated = "session.metadata.updated"
	SessionMetadataDeleted = "session.metadata.deleted"
)

// Event types for session feedback
const (
	SessionFeedbackAdded = "session.feedback.added"
)

// Event types for agent state
const (
	SessionAgentSynced     = "session.agent.synced"
	SessionMessageAppended = "session.message.appended"
)

// BuildSessionCreatedSubject creates a session created subject for a specific session
func BuildSessionCreatedSubject(sessionID string) string {
	return SessionCreated + "." + sessionID
}

// BuildMetadataUpdatedSubject creates a metadata updated subject for a specific session
func BuildMetadataUpdatedSubject(sessionID string) string {
	return SessionMetadataUpdated + "." + sessionID
}

// BuildMetadataUpdatedWildcardSubject creates a wildcard subscription for all metadata updates
func BuildMetadataUpdatedWildcardSubject() string {
	return SessionMetadataUpdated + ".*"
}

// BuildMetadataDeletedSubject creates a metadata deleted subject for a specific session
func BuildMetadataDeletedSubject(sessionID string) string {
	return SessionMetadataDeleted + "." + sessionID
}

// BuildMetadataDeletedWildcardSubject creates a wildcard subscription for all metadata deletions
func BuildMetadataDeletedWildcardSubject() string {
	return SessionMetadataDeleted + ".*"
}

// BuildFeedbackAddedSubject creates a feedback added subject for a specific session
func BuildFeedbackAddedSubject(sessionID string) string {
	return SessionFeedbackAdded + "." + sessionID
}

// BuildFeedbackAddedWildcardSubject creates a wildcard subscription for all feedback events
func BuildFeedbackAddedWildcardSubject() string {
	return SessionFeedbackAdded + ".*"
}

// BuildAgentSyncedSubject creates an agent synced subject for a specific session
func BuildAgentSyncedSubject(sessionID string) string {
	return SessionAgentSynced + "." + sessionID
}

// BuildMessageAppendedSubject creates a message appended subject for a specific session
func BuildMessageAppendedSubject(sessionID string) string {
	return SessionMessageAppended + "." + sessionID
}

// BuildMessageAppendedWildcardSubject creates a wildcard subscription for all message events
func BuildMessageAppendedWildcardSubject() string {
	return SessionMessageAppended + ".*"
}
