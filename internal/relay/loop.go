// Package relay is the pipeline between platform channels and the inference
// endpoint: admit the event, gather context and attachment, build the
// prompt, make one inference call, post exactly one reply.
package relay

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/inference"
	"relaybot/internal/metrics"
)

const (
	defaultConcurrency    = 5
	defaultWorkerDeadline = 120 * time.Second
	defaultContextLimit   = 6
)

// Recorder persists processed-event outcomes. Implemented by the optional
// transcript store.
type Recorder interface {
	Record(ctx context.Context, rec domain.RelayRecord) error
}

// Binding ties a channel name to its platform lookups and per-channel
// routing settings.
type Binding struct {
	Platform   domain.Platform
	TargetChat string // optional channel/chat restriction
	RichBlocks bool   // post Block Kit payloads when the response carries them
}

// Loop consumes inbound events from the bus with bounded concurrency. Each
// admitted event is processed by one worker under a context deadline and
// results in exactly one outbound reply.
type Loop struct {
	client       *inference.Client
	bus          domain.MessageBus
	bindings     map[string]Binding
	recorder     Recorder
	logger       *slog.Logger
	concurrency  int
	deadline     time.Duration
	contextLimit int
}

// LoopConfig holds the relay loop's dependencies and tuning parameters.
type LoopConfig struct {
	Client       *inference.Client
	Bus          domain.MessageBus
	Bindings     map[string]Binding
	Recorder     Recorder // optional
	Logger       *slog.Logger
	Concurrency  int           // max parallel workers (default 5)
	Deadline     time.Duration // per-event processing deadline (default 120s)
	ContextLimit int           // prior thread messages per prompt (default 6)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultWorkerDeadline
	}
	if cfg.ContextLimit < 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		client:       cfg.Client,
		bus:          cfg.Bus,
		bindings:     cfg.Bindings,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		concurrency:  cfg.Concurrency,
		deadline:     cfg.Deadline,
		contextLimit: cfg.ContextLimit,
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes. Workers are bounded by a semaphore; no unbounded fan-out.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "concurrency", l.concurrency, "deadline", l.deadline)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			sem <- struct{}{}
			go func(e domain.InboundEvent) {
				defer func() { <-sem }()
				metrics.WorkersInFlight.Inc()
				defer metrics.WorkersInFlight.Dec()
				l.processEvent(ctx, e)
			}(ev)
		}
	}
}

func (l *Loop) processEvent(ctx context.Context, ev domain.InboundEvent) {
	metrics.EventsReceived.Inc()

	binding, ok := l.bindings[ev.Channel]
	if !ok {
		l.logger.Warn("event from unbound channel", "channel", ev.Channel)
		return
	}

	policy := Policy{SelfID: binding.Platform.SelfID(), TargetChat: binding.TargetChat}
	if admitted, reason := policy.Admit(ev); !admitted {
		metrics.EventSkipped(reason).Inc()
		l.logger.Debug("event skipped", "channel", ev.Channel, "reason", reason)
		return
	}
	metrics.EventsAdmitted.Inc()

	l.logger.Info("processing event",
		"channel", ev.Channel,
		"chat", ev.ChatID,
		"sender", ev.SenderID,
		"thread", ev.ThreadID,
		"attachments", len(ev.Attachments),
	)

	ctx, cancel := context.WithTimeout(ctx, l.deadline)
	defer cancel()

	start := time.Now()

	// Thread context. A fetch failure degrades to an empty block; the event
	// still gets processed.
	var ctxBlock string
	if l.contextLimit > 0 {
		msgs, err := binding.Platform.History(ctx, ev.ChatID, ev.ThreadID, l.contextLimit)
		if err != nil {
			l.logger.Warn("thread history fetch failed", "channel", ev.Channel, "thread", ev.ThreadID, "err", err)
		} else {
			ctxBlock = RenderContext(msgs)
		}
	}

	// Attachment. One failure aborts the event with a user-visible error,
	// before any inference call.
	var att *domain.Attachment
	if len(ev.Attachments) > 0 {
		a, err := binding.Platform.FetchAttachment(ctx, ev.Attachments[0])
		if err != nil {
			l.logger.Error("attachment fetch failed", "channel", ev.Channel, "file", ev.Attachments[0].ID, "err", err)
			l.post(ctx, ev, Disposition{
				Outcome: OutcomeError,
				Text:    fileDownloadErrPrefix + err.Error(),
			}, true, start)
			return
		}
		att = a
	}

	var filename string
	if att != nil {
		filename = att.Filename
	}
	prompt := BuildPrompt(PromptInput{
		Platform: ev.Channel,
		Sender:   ev.SenderLabel,
		Text:     ev.Text,
		Filename: filename,
	})

	callStart := time.Now()
	res := l.client.Do(ctx, inference.Request{
		Text:       prompt,
		Context:    ctxBlock,
		Sync:       att == nil,
		Attachment: att,
	})
	metrics.InferenceLatency.Observe(time.Since(callStart).Seconds())

	l.post(ctx, ev, Dispatch(res, att != nil, binding.RichBlocks), att != nil, start)
}

// post hands the single reply for an event to the channel and records the
// outcome. Posting failures are the channel's to log; the worker is done.
func (l *Loop) post(ctx context.Context, ev domain.InboundEvent, d Disposition, hadAttachment bool, start time.Time) {
	l.bus.SendOutbound(domain.OutboundReply{
		Channel:  ev.Channel,
		ChatID:   ev.ChatID,
		ThreadID: ev.ThreadID,
		Text:     d.Text,
		Blocks:   d.Blocks,
	})
	metrics.ReplyOutcome(d.Outcome).Inc()

	if l.recorder != nil {
		rec := domain.RelayRecord{
			Channel:       ev.Channel,
			ChatID:        ev.ChatID,
			ThreadID:      ev.ThreadID,
			SenderID:      ev.SenderID,
			Outcome:       d.Outcome,
			HadAttachment: hadAttachment,
			LatencyMS:     time.Since(start).Milliseconds(),
		}
		if d.Outcome == OutcomeError {
			rec.Error = d.Text
		} else {
			rec.Reply = d.Text
		}
		if err := l.recorder.Record(ctx, rec); err != nil {
			l.logger.Warn("transcript record failed", "err", err)
		}
	}
}
