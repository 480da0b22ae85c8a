package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/technosupport/ts-nvr/internal/data"
)

// TelegramChannel sends alerts through the Telegram Bot API. Token and
// chat come from the user's settings per send, so one channel instance
// serves every user.
type TelegramChannel struct {
	baseURL string
	client  *http.Client
}

func NewTelegramChannel() *TelegramChannel {
	return &TelegramChannel{
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Enabled(s data.UserSettings) bool {
	return s.TelegramEnabled && s.TelegramBotToken != "" && s.TelegramChatID != ""
}

// Send delivers the alert text, attaching the event frame as a photo when
// the user opted in and the frame exists on disk.
func (c *TelegramChannel) Send(ctx context.Context, e *data.Event, s data.UserSettings, text string) error {
	if s.TelegramSendPhoto && e.FramePath != "" {
		if err := c.sendPhoto(ctx, s, e.FramePath, text); err == nil {
			return nil
		}
		// Photo failed, fall through to plain text so the alert still lands.
	}
	return c.sendMessage(ctx, s, text)
}

func (c *TelegramChannel) sendMessage(ctx context.Context, s data.UserSettings, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    s.TelegramChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, s.TelegramBotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *TelegramChannel) sendPhoto(ctx context.Context, s data.UserSettings, framePath, caption string) error {
	f, err := os.Open(framePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", s.TelegramChatID); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("photo", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", c.baseURL, s.TelegramBotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *TelegramChannel) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
