// Package telegram implements the Messenger contract over the Telegram Bot
// API with plain HTTP calls.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"url-courier/internal/transport"
)

const telegramAPIBase = "https://api.telegram.org/bot"

// Settings contains Telegram-specific configuration.
type Settings struct {
	BotToken string
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
}

// Client talks to the Telegram Bot API and satisfies transport.Messenger.
type Client struct {
	settings   Settings
	httpClient *http.Client
	logger     *logrus.Entry
}

var _ transport.Messenger = (*Client)(nil)

func New(settings Settings, httpClient *http.Client, logger *logrus.Entry) *Client {
	if settings.BaseURL == "" {
		settings.BaseURL = telegramAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		settings:   settings,
		httpClient: httpClient,
		logger:     logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func (c *Client) SendStatus(ctx context.Context, chatID int64, text string) (transport.MessageRef, error) {
	var msg apiMessage
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, &msg)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

func (c *Client) EditStatus(ctx context.Context, ref transport.MessageRef, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
	return classifyEdit(err)
}

func (c *Client) EditChoice(ctx context.Context, ref transport.MessageRef, text string, buttons [][]transport.Button) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":      ref.ChatID,
		"message_id":   ref.MessageID,
		"text":         text,
		"parse_mode":   "HTML",
		"reply_markup": inlineKeyboard(buttons),
	}, nil)
	return classifyEdit(err)
}

func (c *Client) DeleteStatus(ctx context.Context, ref transport.MessageRef) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}, nil)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
		payload["show_alert"] = alert
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

func (c *Client) React(ctx context.Context, chatID, messageID int64, emoji string) error {
	return c.call(ctx, "setMessageReaction", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}, nil)
}

// Deliver uploads the file as a multipart request. The endpoint and file
// field depend on the delivery kind.
func (c *Client) Deliver(ctx context.Context, chatID int64, d transport.Delivery) error {
	method, field := "sendDocument", "document"
	switch d.Kind {
	case transport.KindPhoto:
		method, field = "sendPhoto", "photo"
	case transport.KindVideo:
		method, field = "sendVideo", "video"
	case transport.KindAudio:
		method, field = "sendAudio", "audio"
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()
		defer mw.Close()

		fields := map[string]string{
			"chat_id": strconv.FormatInt(chatID, 10),
		}
		if d.Caption != "" {
			fields["caption"] = d.Caption
		}
		if d.Kind == transport.KindVideo && d.Video != nil {
			fields["duration"] = strconv.Itoa(d.Video.Duration)
			fields["width"] = strconv.Itoa(d.Video.Width)
			fields["height"] = strconv.Itoa(d.Video.Height)
			fields["supports_streaming"] = "true"
		}
		for k, v := range fields {
			if werr = mw.WriteField(k, v); werr != nil {
				return
			}
		}

		if d.Thumbnail != "" && d.Kind != transport.KindPhoto {
			if werr = attachThumbnail(mw, d.Thumbnail); werr != nil {
				return
			}
		}

		part, err := mw.CreateFormFile(field, filepath.Base(d.Path))
		if err != nil {
			werr = err
			return
		}
		var src io.Reader = f
		if d.Progress != nil {
			src = io.TeeReader(f, &progressWriter{total: info.Size(), cb: d.Progress})
		}
		_, werr = io.Copy(part, src)
	}()

	url := c.settings.BaseURL + c.settings.BotToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, nil)
}

func attachThumbnail(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()
	part, err := mw.CreateFormFile("thumbnail", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Update is one long-poll result from getUpdates.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text     string `json:"text"`
		Caption  string `json:"caption"`
		Document *struct {
			FileID   string `json:"file_id"`
			FileName string `json:"file_name"`
			FileSize int64  `json:"file_size"`
		} `json:"document"`
		// Photo holds the size variants Telegram generated, smallest first.
		Photo []struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"photo"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

type telegramFile struct {
	FilePath string `json:"file_path"`
}

// DownloadFile fetches a user-sent file (a .torrent document) to destDir and
// returns the local path.
func (c *Client) DownloadFile(ctx context.Context, fileID, destDir, name string) (string, error) {
	var file telegramFile
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return "", err
	}

	base := strings.Replace(c.settings.BaseURL, "/bot", "/file/bot", 1)
	url := base + c.settings.BotToken + "/" + file.FilePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create dest dir: %w", err)
	}
	dest := filepath.Join(destDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write file: %w", err)
	}
	return dest, nil
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := c.settings.BaseURL + c.settings.BotToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, result)
}

func decodeResponse(resp *http.Response, result any) error {
	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !api.OK {
		if api.Description != "" {
			return fmt.Errorf("telegram error: %s", api.Description)
		}
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	if result != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// classifyEdit wraps Telegram's edit-race errors so callers can tell a no-op
// edit or a deleted message from a real failure.
func classifyEdit(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return &transport.EditError{Kind: transport.EditErrorUnchanged, Err: err}
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message not found"):
		return &transport.EditError{Kind: transport.EditErrorNotFound, Err: err}
	default:
		return err
	}
}

func inlineKeyboard(buttons [][]transport.Button) map[string]any {
	rows := make([][]map[string]string, 0, len(buttons))
	for _, row := range buttons {
		r := make([]map[string]string, 0, len(row))
		for _, b := range row {
			r = append(r, map[string]string{"text": b.Label, "callback_data": b.Data})
		}
		rows = append(rows, r)
	}
	return map[string]any{"inline_keyboard": rows}
}

type progressWriter struct {
	total int64
	done  int64
	cb    func(done, total int64)
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.done += int64(len(b))
	w.cb(w.done, w.total)
	return len(b), nil
}
