package hooks

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// TopicDisabled is the sentinel topic ARN that disables one rating arm.
const TopicDisabled = "none"

// SNSPublisher is the slice of the SNS API the feedback hook uses. Satisfied
// by *sns.Client; tests substitute fakes.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PasswordSource resolves a session's viewer password for inclusion in
// notification bodies. session.Store satisfies it.
type PasswordSource interface {
	SessionViewerPassword(ctx context.Context, sessionID string) (string, error)
}

// FeedbackTopic is one rating arm of the SNS routing: the destination topic
// plus optional subject and body prefix templates. Templates may reference
// {session_id}, {rating}, and {timestamp}.
type FeedbackTopic struct {
	TopicARN      string
	SubjectPrefix string
	BodyPrefix    string
}

// FeedbackSNSConfig routes feedback by rating: "up" to Good, "down" to Bad,
// anything else (including absent) to Neutral.
type FeedbackSNSConfig struct {
	Good    FeedbackTopic
	Bad     FeedbackTopic
	Neutral FeedbackTopic

	// Passwords supplies the session viewer password for the message body.
	// Optional; without it the body carries "N/A".
	Passwords PasswordSource

	Logger *logger.Logger
}

// NewFeedbackSNS returns a hook that publishes a notification for every
// feedback entry. Arms with TopicARN "none" (or empty) are skipped.
func NewFeedbackSNS(client SNSPublisher, cfg FeedbackSNSConfig) session.HookFunc {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("hook", "feedback_sns"))

	return func(ctx context.Context, inv session.Invocation) error {
		action, ok := inv.Action.(session.AddFeedbackAction)
		if !ok {
			return nil
		}
		entry := action.Entry

		topic, ratingText := cfg.route(entry.Rating)
		if topic.TopicARN == "" || topic.TopicARN == TopicDisabled {
			log.Info("skipping feedback notification, topic disabled",
				zap.String("session_id", inv.SessionID),
				zap.String("rating", ratingText))
			return nil
		}

		vars := templateVars{
			sessionID: inv.SessionID,
			rating:    ratingText,
			timestamp: inv.Time.UTC().Format(time.RFC3339),
		}
		subject := renderTemplate(topic.SubjectPrefix, vars) + "on session " + inv.SessionID

		password := "N/A"
		if cfg.Passwords != nil {
			if pw, err := cfg.Passwords.SessionViewerPassword(ctx, inv.SessionID); err != nil {
				log.Warn("failed to resolve session viewer password",
					zap.String("session_id", inv.SessionID), zap.Error(err))
			} else if pw != "" {
				password = pw
			}
		}

		body := renderTemplate(topic.BodyPrefix, vars) +
			"Password: " + password + "\n\nSession: " + inv.SessionID + "\n\n" + entry.Comment
		body = strings.ReplaceAll(body, "_SESSION_ID_", inv.SessionID)

		_, err := client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(topic.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(body),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"session_id": {DataType: aws.String("String"), StringValue: aws.String(inv.SessionID)},
				"rating":     {DataType: aws.String("String"), StringValue: aws.String(ratingText)},
			},
		})
		if err != nil {
			return err
		}
		log.Info("sent feedback notification",
			zap.String("session_id", inv.SessionID),
			zap.String("topic_arn", topic.TopicARN),
			zap.String("rating", ratingText))
		return nil
	}
}

func (cfg *FeedbackSNSConfig) route(rating *string) (FeedbackTopic, string) {
	if rating != nil {
		switch *rating {
		case "up":
			return cfg.Good, "positive"
		case "down":
			return cfg.Bad, "negative"
		}
	}
	return cfg.Neutral, "neutral"
}

type templateVars struct {
	sessionID string
	rating    string
	timestamp string
}

// renderTemplate substitutes {session_id}, {rating}, and {timestamp}
// placeholders. A nil-equivalent empty template renders to "".
func renderTemplate(template string, vars templateVars) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer(
		"{session_id}", vars.sessionID,
		"{rating}", vars.rating,
		"{timestamp}", vars.timestamp,
	).Replace(template)
}
