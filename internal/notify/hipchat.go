package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HipChatTransport posts a room notification over HTTP, selected by the
// "hipchat" entry in notifications.enabled_methods.
type HipChatTransport struct {
	RoomURL string
	Token   string
	Client  *http.Client
}

// NewHipChatTransport builds a HipChatTransport posting to roomURL.
func NewHipChatTransport(roomURL, token string) *HipChatTransport {
	return &HipChatTransport{
		RoomURL: roomURL,
		Token:   token,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type hipChatMessage struct {
	Message string `json:"message"`
	Color   string `json:"color"`
	Notify  bool   `json:"notify"`
}

func (t *HipChatTransport) Send(ctx context.Context, event Event) error {
	if t == nil || t.RoomURL == "" {
		return nil
	}
	payload := hipChatMessage{
		Message: fmt.Sprintf("%s %s %s %s -> %s", event.Actor, event.Action.Command, event.Action.Subcommand, event.Package, event.Target.Env),
		Color:   "yellow",
		Notify:  true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal hipchat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.RoomURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hipchat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.Token)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post hipchat message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hipchat returned status %d", resp.StatusCode)
	}
	return nil
}
