package notifications

import (
	"context"
	"net/http"
	"strings"
)

// Discord rejects messages longer than this.
const discordContentLimit = 2000

type DiscordNotifier struct {
	client     *http.Client
	webhookURL string
}

type discordPayload struct {
	Content string `json:"content"`
}

func NewDiscordNotifier(client *http.Client, webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{client: client, webhookURL: strings.TrimSpace(webhookURL)}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, "", discordPayload{Content: discordContent(n)})
}

// discordContent bolds the subject and cuts the message on a rune boundary.
func discordContent(n Notification) string {
	content := "**" + n.Subject + "**\n" + n.Body
	runes := []rune(content)
	if len(runes) <= discordContentLimit {
		return content
	}
	return string(runes[:discordContentLimit-1]) + "…"
}
