package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackSink posts notifications to a Slack incoming webhook.
type SlackSink struct {
	WebhookURL string
	Channel    string
	Username   string
	Client     *http.Client
}

// NewSlackSink creates a sink with a 10 second HTTP timeout.
func NewSlackSink(webhookURL, channel, username string) *SlackSink {
	if username == "" {
		username = "hookbox"
	}
	return &SlackSink{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Fields []slackField `json:"fields"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func (s *SlackSink) Notify(ctx context.Context, message string, metadata map[string]any) error {
	msg := slackMessage{
		Text:     message,
		Channel:  s.Channel,
		Username: s.Username,
	}
	if len(metadata) > 0 {
		attachment := slackAttachment{Color: colorFor(stringField(metadata, "state"))}
		for _, key := range sortedKeys(metadata) {
			attachment.Fields = append(attachment.Fields, slackField{
				Title: key,
				Value: fmt.Sprint(metadata[key]),
				Short: true,
			})
		}
		msg.Attachments = []slackAttachment{attachment}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func colorFor(state string) string {
	switch state {
	case "success":
		return "good"
	case "failure", "error":
		return "danger"
	case "pending":
		return "warning"
	default:
		return ""
	}
}
