package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RESTFallback creates durable message records through the REST API's
// message-creation endpoint. The UI stays usable over plain request/response
// even with zero successful real-time connections.
type RESTFallback struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (f *RESTFallback) CreateMessage(ctx context.Context, conversationID, content string) error {
	body, err := json.Marshal(map[string]string{
		"conversation_id": conversationID,
		"content":         content,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.Token)

	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("message creation failed: %s: %s", resp.Status, msg)
	}
	return nil
}
