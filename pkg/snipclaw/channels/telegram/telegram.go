// Package telegram implements the Telegram channel for snipclaw using the
// Telegram Bot API directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Text, voice and album sends, with local file upload
//   - copyMessage for forward-only snippets
//   - Media download via getFile
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// DefaultAPIBaseURL is the public Bot API endpoint.
const DefaultAPIBaseURL = "https://api.telegram.org"

// maxAlbumItems is the Bot API limit for sendMediaGroup.
const maxAlbumItems = 10

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// Admins are the user ids allowed to run mutating commands.
	Admins []int64 `yaml:"admins"`

	// AllowedChats restricts which chat IDs the bot responds to.
	// Empty means respond to all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// PollTimeoutSeconds is the long-polling timeout for getUpdates.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`

	// APIBaseURL overrides the Bot API endpoint (tests, local Bot API server).
	APIBaseURL string `yaml:"api_base_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollTimeoutSeconds: 30,
		APIBaseURL:         DefaultAPIBaseURL,
	}
}

// Telegram implements channels.Transport and channels.Receiver.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api>/bot<token>; fileURL is <api>/file/bot<token>.
	baseURL string
	fileURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	// username is the bot's own @username, known after Connect.
	username atomic.Value

	cancel context.CancelFunc
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	return &Telegram{
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		client: &http.Client{
			Timeout: time.Duration(cfg.PollTimeoutSeconds+30) * time.Second,
		},
		baseURL:  cfg.APIBaseURL + "/bot" + cfg.Token,
		fileURL:  cfg.APIBaseURL + "/file/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// SetHTTPClient replaces the HTTP client (tests).
func (t *Telegram) SetHTTPClient(c *http.Client) { t.client = c }

// ---------- Receiver ----------

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	me, err := t.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.username.Store(me.Username)
	t.connected.Store(true)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.pollLoop(pollCtx)
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Username returns the bot's username, empty before Connect.
func (t *Telegram) Username() string {
	name, _ := t.username.Load().(string)
	return name
}

// ---------- Transport ----------

// SendText sends a text message to the specified chat.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts channels.TextOptions) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.ParseMode != channels.ParseModeNone {
		payload["parse_mode"] = string(opts.ParseMode)
	}
	if opts.DisablePreview {
		payload["link_preview_options"] = map[string]any{"is_disabled": true}
	}
	if rp := replyParameters(opts.ReplyTo); rp != nil {
		payload["reply_parameters"] = rp
	}
	_, err := t.apiCall(ctx, "sendMessage", payload)
	return err
}

// SendMediaGroup uploads local files as albums. Groups of one item are sent
// with the matching single-media method; larger groups are chunked by 10.
func (t *Telegram) SendMediaGroup(ctx context.Context, chatID int64, items []channels.MediaItem, replyTo int64) error {
	if len(items) == 0 {
		return nil
	}
	for start := 0; start < len(items); start += maxAlbumItems {
		end := min(start+maxAlbumItems, len(items))
		chunk := items[start:end]
		var err error
		if len(chunk) == 1 {
			err = t.sendSingleMedia(ctx, chatID, chunk[0], replyTo)
		} else {
			err = t.sendAlbum(ctx, chatID, chunk, replyTo)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SendVoice uploads a local audio file as a voice message.
func (t *Telegram) SendVoice(ctx context.Context, chatID int64, voice channels.MediaItem, replyTo int64) error {
	fields := baseFields(chatID, replyTo)
	addCaption(fields, voice.Caption, voice.ParseMode)
	_, err := t.uploadMultipart(ctx, "sendVoice", fields, []formFile{{field: "voice", path: voice.Path}})
	return err
}

// CopyMessage copies an existing message into chatID.
func (t *Telegram) CopyMessage(ctx context.Context, chatID, fromChatID, messageID, replyTo int64) error {
	payload := map[string]any{
		"chat_id":      chatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	if rp := replyParameters(replyTo); rp != nil {
		payload["reply_parameters"] = rp
	}
	_, err := t.apiCall(ctx, "copyMessage", payload)
	return err
}

// GetFile retrieves file info for downloading.
func (t *Telegram) GetFile(ctx context.Context, fileID string) (*channels.File, error) {
	data, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &channels.File{
		FileID:   file.FileID,
		FilePath: file.FilePath,
		FileSize: file.FileSize,
	}, nil
}

// DownloadFile streams a file from the Bot API file endpoint into w.
func (t *Telegram) DownloadFile(ctx context.Context, file *channels.File, w io.Writer) error {
	if file == nil || file.FilePath == "" {
		return channels.ErrMediaDownloadFailed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileURL+"/"+file.FilePath, nil)
	if err != nil {
		return fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: download %s: http %d", file.FilePath, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("telegram: reading media: %w", err)
	}
	return nil
}

// ---------- Internal Methods ----------

func (t *Telegram) sendSingleMedia(ctx context.Context, chatID int64, item channels.MediaItem, replyTo int64) error {
	kind := albumType(item.Type)
	method := map[string]string{
		"photo":    "sendPhoto",
		"video":    "sendVideo",
		"audio":    "sendAudio",
		"document": "sendDocument",
	}[kind]

	fields := baseFields(chatID, replyTo)
	addCaption(fields, item.Caption, item.ParseMode)
	_, err := t.uploadMultipart(ctx, method, fields, []formFile{{field: kind, path: item.Path}})
	return err
}

func (t *Telegram) sendAlbum(ctx context.Context, chatID int64, items []channels.MediaItem, replyTo int64) error {
	media := make([]map[string]any, 0, len(items))
	files := make([]formFile, 0, len(items))
	for i, item := range items {
		attach := "file" + strconv.Itoa(i)
		entry := map[string]any{
			"type":  albumType(item.Type),
			"media": "attach://" + attach,
		}
		if item.Caption != "" {
			entry["caption"] = item.Caption
			if item.ParseMode != channels.ParseModeNone {
				entry["parse_mode"] = string(item.ParseMode)
			}
		}
		media = append(media, entry)
		files = append(files, formFile{field: attach, path: item.Path})
	}

	raw, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("telegram: marshal media group: %w", err)
	}
	fields := baseFields(chatID, replyTo)
	fields["media"] = string(raw)
	_, err = t.uploadMultipart(ctx, "sendMediaGroup", fields, files)
	return err
}

// albumType maps a media type to the InputMedia type of the Bot API.
// Voice notes and round videos have no album form.
func albumType(mt channels.MediaType) string {
	switch mt {
	case channels.MediaPhoto:
		return "photo"
	case channels.MediaVideo, channels.MediaVideoNote:
		return "video"
	case channels.MediaAudio, channels.MediaVoice:
		return "audio"
	default:
		return "document"
	}
}

func baseFields(chatID, replyTo int64) map[string]string {
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if rp := replyParameters(replyTo); rp != nil {
		raw, _ := json.Marshal(rp)
		fields["reply_parameters"] = string(raw)
	}
	return fields
}

func addCaption(fields map[string]string, caption string, mode channels.ParseMode) {
	if caption == "" {
		return
	}
	fields["caption"] = caption
	if mode != channels.ParseModeNone {
		fields["parse_mode"] = string(mode)
	}
}

func replyParameters(replyTo int64) map[string]any {
	if replyTo == 0 {
		return nil
	}
	return map[string]any{
		"message_id":                  replyTo,
		"allow_sending_without_reply": true,
	}
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop(ctx context.Context) {
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(ctx, t.offset, 100, t.cfg.PollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
// Edited messages are ignored so that edits never re-post snippets.
func (t *Telegram) processUpdate(u tgUpdate) {
	if u.Message == nil {
		return
	}
	if !t.chatAllowed(u.Message.Chat.ID) {
		return
	}

	incoming := convertMessage(u.Message, true)
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// ---------- API Helpers ----------

// apiCall makes a JSON POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeResult(method, resp.Body)
}

func decodeResult(method string, r io.Reader) (json.RawMessage, error) {
	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var user tgUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// Compile-time interface verification.
var (
	_ channels.Transport = (*Telegram)(nil)
	_ channels.Receiver  = (*Telegram)(nil)
)
