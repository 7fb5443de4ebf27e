// Package notify sends build lifecycle notifications to Slack.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Notifier reports terminal build outcomes.
type Notifier interface {
	BuildFinished(ctx context.Context, n BuildNotification) error
}

// BuildNotification carries everything a channel message needs.
type BuildNotification struct {
	ProjectID   string
	Name        string
	Status      string // complete, failed, cancelled
	Phase       string
	Duration    string
	DeployURL   string
	GitHubURL   string
	Error       string
	Question    string // set when a clarification went unanswered
}

// PostMessageAPI abstracts the Slack client for testing.
type PostMessageAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts Block Kit messages to a fixed channel.
type SlackNotifier struct {
	api     PostMessageAPI
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier for the given bot token and channel.
func NewSlackNotifier(botToken, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(botToken),
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// NewSlackNotifierWithAPI creates a notifier with an injected client (for testing).
func NewSlackNotifierWithAPI(api PostMessageAPI, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// BuildFinished posts a summary of the terminal build state.
func (n *SlackNotifier) BuildFinished(ctx context.Context, note BuildNotification) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(summaryLine(note), false),
		slack.MsgOptionBlocks(buildBlocks(note)...),
	)
	if err != nil {
		n.logger.Error().Err(err).Str("project_id", note.ProjectID).Msg("failed to post build notification")
		return fmt.Errorf("posting build notification: %w", err)
	}

	n.logger.Info().Str("project_id", note.ProjectID).Str("status", note.Status).Msg("build notification sent")
	return nil
}

func summaryLine(n BuildNotification) string {
	switch n.Status {
	case "complete":
		return fmt.Sprintf("%s Build %q finished in %s", statusEmoji(n.Status), n.Name, n.Duration)
	case "cancelled":
		return fmt.Sprintf("%s Build %q was cancelled", statusEmoji(n.Status), n.Name)
	default:
		return fmt.Sprintf("%s Build %q failed in phase %s", statusEmoji(n.Status), n.Name, n.Phase)
	}
}

func statusEmoji(status string) string {
	switch status {
	case "complete":
		return "✅"
	case "cancelled":
		return "🚫"
	default:
		return "❌"
	}
}

func buildBlocks(n BuildNotification) []slack.Block {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Status:*\n%s", n.Status), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Build:*\n%s", n.ProjectID), false, false),
	}
	if n.Duration != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration:*\n%s", n.Duration), false, false))
	}
	if n.DeployURL != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Live at:*\n<%s>", n.DeployURL), false, false))
	}
	if n.GitHubURL != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Code:*\n<%s>", n.GitHubURL), false, false))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", summaryLine(n), false, false),
			fields, nil,
		),
	}

	if n.Error != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("```%s```", truncate(n.Error, 500)), false, false),
			nil, nil,
		))
	}
	if n.Question != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Last unanswered question: %s", truncate(n.Question, 200)), false, false),
		))
	}

	return blocks
}

// truncate shortens s to max chars, appending "…" if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
