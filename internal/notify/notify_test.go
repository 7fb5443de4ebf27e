package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlack struct {
	channel string
	options []slack.MsgOption
	calls   int
	err     error
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.channel = channelID
	f.options = options
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1234.5678", nil
}

func TestBuildFinished_PostsToChannel(t *testing.T) {
	fake := &fakeSlack{}
	n := NewSlackNotifierWithAPI(fake, "#builds", zerolog.Nop())

	err := n.BuildFinished(context.Background(), BuildNotification{
		ProjectID: "p1",
		Name:      "todo app",
		Status:    "complete",
		Phase:     "complete",
		Duration:  "4m12s",
		DeployURL: "https://todo.apps.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "#builds", fake.channel)
	assert.Len(t, fake.options, 2, "text fallback plus blocks")
}

func TestBuildFinished_APIErrorPropagates(t *testing.T) {
	fake := &fakeSlack{err: errors.New("channel_not_found")}
	n := NewSlackNotifierWithAPI(fake, "#builds", zerolog.Nop())

	err := n.BuildFinished(context.Background(), BuildNotification{ProjectID: "p1", Status: "failed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSummaryLine(t *testing.T) {
	complete := summaryLine(BuildNotification{Name: "shop", Status: "complete", Duration: "3m"})
	assert.Contains(t, complete, "✅")
	assert.Contains(t, complete, "3m")

	cancelled := summaryLine(BuildNotification{Name: "shop", Status: "cancelled"})
	assert.Contains(t, cancelled, "🚫")

	failed := summaryLine(BuildNotification{Name: "shop", Status: "failed", Phase: "building"})
	assert.Contains(t, failed, "❌")
	assert.Contains(t, failed, "building")
}

func TestBuildBlocks(t *testing.T) {
	minimal := buildBlocks(BuildNotification{ProjectID: "p1", Status: "complete"})
	assert.Len(t, minimal, 1)

	withError := buildBlocks(BuildNotification{ProjectID: "p1", Status: "failed", Error: "agent exited 1"})
	assert.Len(t, withError, 2)

	withQuestion := buildBlocks(BuildNotification{
		ProjectID: "p1",
		Status:    "failed",
		Error:     "timed out",
		Question:  "React or Vue?",
	})
	assert.Len(t, withQuestion, 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("x", 600)
	got := truncate(long, 500)
	assert.Len(t, got, 500+len("…"))
	assert.True(t, strings.HasSuffix(got, "…"))
}
