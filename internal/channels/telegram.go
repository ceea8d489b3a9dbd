// Package channels adapts inbound chat surfaces onto workflow turns. The
// only surface today is Telegram: allowlisted chats talk to the hub
// workflow, with an optional /route prefix to reach another agent.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/atohub/internal/conversation"
	"github.com/basket/atohub/internal/shared"
	"github.com/basket/atohub/internal/workflow"
)

// TurnRunner runs one workflow turn. Satisfied by workflow.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req workflow.Request) (workflow.Response, error)
}

// TelegramChannel polls the Telegram Bot API and runs each allowlisted
// message as a hub workflow turn.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	runner     TurnRunner
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI

	// history keeps a short in-memory transcript per chat so follow-up
	// messages carry conversational context.
	history map[int64][]conversation.Turn
}

// historyWindow bounds the per-chat transcript sent with each turn.
const historyWindow = 20

func NewTelegramChannel(token string, allowedIDs []int64, runner TurnRunner, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		runner:     runner,
		logger:     logger,
		history:    make(map[int64][]conversation.Turn),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Start connects to Telegram and polls until the context ends,
// reconnecting with exponential backoff on transport failures.
func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads updates until ctx ends, the channel closes, or nothing
// arrives within 2.5x the long-poll timeout (stall detection; the library
// blocks on a dead connection rather than closing the channel).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	req, ok := t.buildRequest(msg.Chat.ID, msg.From.ID, msg.Text)
	if !ok {
		return
	}

	resp, err := t.runner.Run(ctx, req)
	if err != nil {
		t.logger.Error("telegram turn rejected", "chat_id", msg.Chat.ID, "error", err)
		t.reply(msg.Chat.ID, fmt.Sprintf("Can't do that: %v", err))
		return
	}

	text := resp.Text
	if text == "" && resp.Fail != nil {
		text = "I can't help with that message."
	}
	if text == "" {
		text = workflow.FallbackMessage
	}

	t.remember(msg.Chat.ID, req.Turns[len(req.Turns)-1], conversation.Turn{Role: conversation.RoleAssistant, Text: text})
	t.reply(msg.Chat.ID, text)
}

// buildRequest maps an inbound message to a workflow request. A leading
// "/route " prefix addresses a specific agent route; everything else goes
// to the hub. Returns false when the message carries no usable text.
func (t *TelegramChannel) buildRequest(chatID, userID int64, text string) (workflow.Request, bool) {
	content := strings.TrimSpace(text)
	if content == "" {
		return workflow.Request{}, false
	}

	var route string
	if strings.HasPrefix(content, "/") && !strings.HasPrefix(content, "//") {
		parts := strings.SplitN(content, " ", 2)
		route = strings.TrimPrefix(parts[0], "/")
		content = ""
		if len(parts) > 1 {
			content = strings.TrimSpace(parts[1])
		}
	}
	if content == "" {
		return workflow.Request{}, false
	}

	turns := append(t.transcript(chatID), conversation.Turn{Role: conversation.RoleUser, Text: content})
	return workflow.Request{
		Workflow:  shared.DefaultWorkflowID,
		Route:     route,
		OwnerID:   fmt.Sprintf("telegram-%d", userID),
		SessionID: fmt.Sprintf("telegram-chat-%d", chatID),
		Turns:     turns,
	}, true
}

// transcript returns a copy of the chat history so the caller can append
// without mutating the stored slice.
func (t *TelegramChannel) transcript(chatID int64) []conversation.Turn {
	stored := t.history[chatID]
	out := make([]conversation.Turn, len(stored))
	copy(out, stored)
	return out
}

func (t *TelegramChannel) remember(chatID int64, turns ...conversation.Turn) {
	h := append(t.history[chatID], turns...)
	if len(h) > historyWindow {
		h = h[len(h)-historyWindow:]
	}
	t.history[chatID] = h
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	if t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
	}
}
