package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMsgLen = 4000

// Telegram implements domain.Channel and domain.Platform using long polling.
type Telegram struct {
	token  string
	debug  bool
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	httpc  *http.Client
	logger *slog.Logger
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token  string
	Debug  bool
	Logger *slog.Logger
}

// NewTelegram creates a new Telegram channel handler.
func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		debug:  cfg.Debug,
		httpc:  &http.Client{Timeout: 60 * time.Second},
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// SelfID returns the bot's numeric user ID as a string. Empty until Start
// has authenticated.
func (t *Telegram) SelfID() string {
	if t.bot == nil {
		return ""
	}
	return strconv.FormatInt(t.bot.Self.ID, 10)
}

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}
	bot.Debug = t.debug
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "user_id", bot.Self.ID)

	bus.OnOutbound("telegram", func(reply domain.OutboundReply) {
		t.postReply(reply)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}
		t.publishMessage(update.Message)
	}

	t.logger.Info("telegram bot disconnecting")
	return nil
}

// Stop is a no-op: polling stops when Start's context is cancelled.
func (t *Telegram) Stop() error { return nil }

// publishMessage normalizes an update onto the bus. Admission is the relay
// loop's call; membership events are tagged with a subtype so it can skip
// them.
func (t *Telegram) publishMessage(msg *tgbotapi.Message) {
	subtype := ""
	if len(msg.NewChatMembers) > 0 {
		subtype = domain.SubtypeChannelJoin
	} else if msg.LeftChatMember != nil {
		subtype = domain.SubtypeChannelLeave
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var refs []domain.AttachmentRef
	if msg.Document != nil {
		refs = append(refs, domain.AttachmentRef{ID: msg.Document.FileID, Name: msg.Document.FileName})
	} else if len(msg.Photo) > 0 {
		// Telegram sends several sizes; the last one is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		refs = append(refs, domain.AttachmentRef{ID: photo.FileID, Name: "photo.jpg"})
	}

	senderID := ""
	senderLabel := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		if msg.From.UserName != "" {
			senderLabel = "<" + msg.From.UserName + ">"
		} else {
			senderLabel = "<@" + senderID + ">"
		}
	}

	t.logger.Info("telegram message received",
		"chat", msg.Chat.ID,
		"from", senderID,
		"subtype", subtype,
		"files", len(refs),
	)

	t.bus.Publish(domain.InboundEvent{
		Channel:     "telegram",
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:    senderID,
		SenderLabel: senderLabel,
		ThreadID:    strconv.Itoa(msg.MessageID),
		Text:        strings.TrimSpace(text),
		Subtype:     subtype,
		Attachments: refs,
		Timestamp:   time.Now(),
	})

	// Typing indicator covers the inference round trip.
	if subtype == "" && senderID != "" && senderID != t.SelfID() {
		action := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
		if _, err := t.bot.Request(action); err != nil {
			t.logger.Debug("typing action failed", "err", err)
		}
	}
}

// FetchAttachment downloads a file through the Bot API file proxy. The MIME
// type comes from the proxy's Content-Type header since getFile does not
// report one.
func (t *Telegram) FetchAttachment(ctx context.Context, ref domain.AttachmentRef) (*domain.Attachment, error) {
	url, err := t.bot.GetFileDirectURL(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	name := ref.Name
	if name == "" {
		name = "unknown_file"
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	t.logger.Info("telegram file downloaded", "filename", name, "bytes", len(data), "mime", mime)

	return &domain.Attachment{
		Filename: name,
		MIME:     mime,
		Data:     data,
	}, nil
}

// History is unavailable: the Bot API has no way to read back a reply chain,
// so prompts go out without thread context.
func (t *Telegram) History(ctx context.Context, chatID, threadID string, limit int) ([]domain.ThreadMessage, error) {
	return nil, nil
}

// postReply sends one reply to the originating message. Failures are logged,
// never retried.
func (t *Telegram) postReply(reply domain.OutboundReply) {
	if reply.Text == "" {
		return
	}

	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("bad chat id in reply", "chat", reply.ChatID, "err", err)
		return
	}
	replyTo, _ := strconv.Atoi(reply.ThreadID)

	for _, chunk := range splitMessage(reply.Text, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error("telegram send failed", "chat", chatID, "err", err)
		}
	}
}
