package notifier

import (
	"context"
	"encoding/json"
	"fmt"
)

// Feishu sends text messages to a Feishu custom-bot webhook. The
// destination is the webhook URL.
type Feishu struct {
	client *Client
}

func NewFeishu(client *Client) *Feishu {
	return &Feishu{client: client}
}

type feishuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// Older webhook endpoints answer with StatusCode/StatusMessage instead.
	StatusCode    int    `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

func (f *Feishu) Deliver(ctx context.Context, destination, content string) error {
	payload := map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": content,
		},
	}

	body, err := f.client.postJSON(ctx, destination, payload)
	if err != nil {
		return fmt.Errorf("feishu: %w", err)
	}

	var resp feishuResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("feishu: decode response: %w", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("feishu: code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}
