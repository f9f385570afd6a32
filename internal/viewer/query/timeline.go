package query

import (
	"sort"
	"time"

	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// Timeline item kinds.
const (
	TimelineItemMessage  = "message"
	TimelineItemFeedback = "feedback"
)

// TimelineItem is one entry of a session's unified timeline: a message from
// any agent or a feedback, tagged by Type. Message fields are empty on
// feedback items and vice versa.
type TimelineItem struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Message fields
	AgentID   string                    `json:"agent_id,omitempty"`
	Role      string                    `json:"role,omitempty"`
	Content   interface{}               `json:"content,omitempty"`
	MessageID int                       `json:"message_id,omitempty"`
	Metrics   *session.EventLoopMetrics `json:"metrics,omitempty"`

	// Feedback fields
	Rating  *string `json:"rating,omitempty"`
	Comment string  `json:"comment,omitempty"`
}

// buildTimeline merges every agent's messages and the session's feedbacks
// into one chronological sequence. Items sharing a timestamp keep their
// insertion order (messages before feedbacks, agents in map order).
func buildTimeline(doc *session.Session) []TimelineItem {
	timeline := make([]TimelineItem, 0)

	for _, agentID := range sortedAgentIDs(doc.Agents) {
		for _, msg := range doc.Agents[agentID].Messages {
			timeline = append(timeline, TimelineItem{
				Type:      TimelineItemMessage,
				Timestamp: msg.CreatedAt,
				AgentID:   agentID,
				Role:      msg.Message.Role(),
				Content:   msg.Message["content"],
				MessageID: msg.MessageID,
				Metrics:   msg.EventLoopMetrics,
			})
		}
	}

	for _, feedback := range doc.Feedbacks {
		timeline = append(timeline, TimelineItem{
			Type:      TimelineItemFeedback,
			Timestamp: feedback.CreatedAt,
			Rating:    feedback.Rating,
			Comment:   feedback.Comment,
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})
	return timeline
}

func sortedAgentIDs(agents map[string]session.AgentRecord) []string {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
