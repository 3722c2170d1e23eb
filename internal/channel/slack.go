package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel and domain.Platform using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, known after AuthTest
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// SelfID returns the bot's user ID. Empty until Start has authenticated.
func (s *Slack) SelfID() string { return s.botUID }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	// Get bot user ID.
	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	// Register outbound handler.
	bus.OnOutbound("slack", func(reply domain.OutboundReply) {
		s.postReply(reply)
	})

	// Event handling goroutine.
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	// Run Socket Mode client (blocks until context is done).
	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op: the socket client stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			s.publishMessage(ev)

		case *slackevents.AppMentionEvent:
			s.publishMention(ev)

		case *slackevents.FileSharedEvent:
			// Acknowledged only; the message event carries the file reference.
			s.logger.Debug("file_shared", "file_id", ev.FileID, "user_id", ev.UserID)

		case *slackevents.FileCreatedEvent:
			s.logger.Debug("file_created", "file_id", ev.FileID)
		}
	}
}

// publishMessage normalizes a message event onto the bus. Admission (own
// messages, system subtypes, target channel) is the relay loop's call.
func (s *Slack) publishMessage(ev *slackevents.MessageEvent) {
	threadID := ev.ThreadTimeStamp
	if threadID == "" {
		threadID = ev.TimeStamp
	}

	var refs []domain.AttachmentRef
	for _, f := range ev.Files {
		refs = append(refs, domain.AttachmentRef{ID: f.ID, Name: f.Name})
	}

	s.logger.Info("slack message received",
		"user", ev.User,
		"channel", ev.Channel,
		"subtype", ev.SubType,
		"files", len(refs),
	)

	s.bus.Publish(domain.InboundEvent{
		Channel:     "slack",
		ChatID:      ev.Channel,
		SenderID:    ev.User,
		SenderLabel: fmt.Sprintf("<@%s>", ev.User),
		ThreadID:    threadID,
		Text:        strings.TrimSpace(ev.Text),
		Subtype:     ev.SubType,
		Attachments: refs,
		Timestamp:   time.Now(),
	})
}

func (s *Slack) publishMention(ev *slackevents.AppMentionEvent) {
	threadID := ev.ThreadTimeStamp
	if threadID == "" {
		threadID = ev.TimeStamp
	}

	// Strip the mention prefix.
	content := ev.Text
	if idx := strings.Index(content, ">"); idx >= 0 {
		content = strings.TrimSpace(content[idx+1:])
	}

	s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)

	s.bus.Publish(domain.InboundEvent{
		Channel:     "slack",
		ChatID:      ev.Channel,
		SenderID:    ev.User,
		SenderLabel: fmt.Sprintf("<@%s>", ev.User),
		ThreadID:    threadID,
		Text:        content,
		Timestamp:   time.Now(),
	})
}

// FetchAttachment resolves a file via files.info and downloads it with the
// bot token.
func (s *Slack) FetchAttachment(ctx context.Context, ref domain.AttachmentRef) (*domain.Attachment, error) {
	file, _, _, err := s.client.GetFileInfoContext(ctx, ref.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("file info: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("could not retrieve file info for %s", ref.ID)
	}

	name := file.Name
	if name == "" {
		name = ref.Name
	}
	if name == "" {
		name = "unknown_file"
	}
	mime := file.Mimetype
	if mime == "" {
		mime = "application/octet-stream"
	}

	if file.URLPrivateDownload == "" {
		return nil, fmt.Errorf("no download URL available for %s", name)
	}

	var buf bytes.Buffer
	if err := s.client.GetFileContext(ctx, file.URLPrivateDownload, &buf); err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}

	s.logger.Info("slack file downloaded", "filename", name, "bytes", buf.Len(), "mime", mime)

	return &domain.Attachment{
		Filename: name,
		MIME:     mime,
		Data:     buf.Bytes(),
	}, nil
}

// History returns up to limit messages of a thread via conversations.replies.
func (s *Slack) History(ctx context.Context, chatID, threadID string, limit int) ([]domain.ThreadMessage, error) {
	msgs, _, _, err := s.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: chatID,
		Timestamp: threadID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation replies: %w", err)
	}

	out := make([]domain.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ThreadMessage{SenderID: m.User, Text: m.Text})
	}
	s.logger.Debug("thread context fetched", "thread", threadID, "messages", len(out))
	return out, nil
}

// postReply posts one reply into its thread. Failures are logged, never
// retried; the reply for that event is lost.
func (s *Slack) postReply(reply domain.OutboundReply) {
	if reply.Text == "" {
		return
	}

	if len(reply.Blocks) > 0 {
		var blocks slack.Blocks
		if err := json.Unmarshal(reply.Blocks, &blocks); err != nil {
			s.logger.Warn("bad block payload, falling back to text", "err", err)
		} else {
			_, _, err := s.client.PostMessage(
				reply.ChatID,
				slack.MsgOptionText(reply.Text, false),
				slack.MsgOptionBlocks(blocks.BlockSet...),
				slack.MsgOptionTS(reply.ThreadID),
			)
			if err != nil {
				s.logger.Error("slack post failed", "channel", reply.ChatID, "err", err)
			}
			return
		}
	}

	// Split long messages.
	for _, chunk := range splitMessage(reply.Text, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(
			reply.ChatID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionTS(reply.ThreadID),
		)
		if err != nil {
			s.logger.Error("slack post failed", "channel", reply.ChatID, "err", err)
		}
	}
}
