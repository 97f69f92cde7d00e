package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DingTalk sends markdown messages to a DingTalk group robot webhook. The
// destination is the webhook URL; when a signing secret is configured the
// timestamp+sign query parameters are appended per the robot security spec.
type DingTalk struct {
	client *Client
	secret string
	title  string
}

func NewDingTalk(client *Client, secret string) *DingTalk {
	return &DingTalk{
		client: client,
		secret: secret,
		title:  "notification",
	}
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalk) Deliver(ctx context.Context, destination, content string) error {
	webhook := destination
	if d.secret != "" {
		webhook = d.signedURL(destination, time.Now().UnixMilli())
	}

	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": d.title,
			"text":  content,
		},
	}

	body, err := d.client.postJSON(ctx, webhook, payload)
	if err != nil {
		return fmt.Errorf("dingtalk: %w", err)
	}

	var resp dingTalkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("dingtalk: decode response: %w", err)
	}
	if resp.ErrCode != 0 {
		return fmt.Errorf("dingtalk: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

// signedURL appends timestamp and sign parameters. DingTalk expects
// base64(hmac-sha256(secret, "<timestamp>\n<secret>")), url-encoded.
func (d *DingTalk) signedURL(webhook string, timestamp int64) string {
	toSign := fmt.Sprintf("%d\n%s", timestamp, d.secret)
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(toSign))
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	sep := "?"
	if strings.Contains(webhook, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", webhook, sep, timestamp, sign)
}
