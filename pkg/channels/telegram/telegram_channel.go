package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aurora/pkg/api"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// TelegramChannel is the production implementation of api.Channel for the
// Telegram platform. Each chat maps to a long-lived session named
// "telegram_<chat_id>"; a chat that stays quiet past the idle timeout is
// detached, which closes the session and triggers summarization.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int           // Maximum character count per single message bubble
	idleTimeout  time.Duration // Inactivity window before a chat session is detached

	mu       sync.Mutex
	chats    map[int64]*chatBinding // ChatID -> active session binding
	stopCtx  context.Context        // Context used to forcibly abort the long-polling HTTP request
	stopStop context.CancelFunc
}

// chatBinding tracks one attached chat session and its idle timer.
type chatBinding struct {
	sessionID string
	transport *telegramTransport
	idle      *time.Timer
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, idleTimeoutMs int) (api.Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Dedicated HTTP client tied to stopCtx so active long-polling requests
	// are aborted immediately on Stop(), preventing the 409 Conflict on restart.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHttpClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHttpClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	if idleTimeoutMs <= 0 {
		idleTimeoutMs = 300000
	}

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		idleTimeout:  time.Duration(idleTimeoutMs) * time.Millisecond,
		chats:        make(map[int64]*chatBinding),
		stopCtx:      ctx,
		stopStop:     cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return // Gracefully exit on shutdown
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			// Native GetUpdates instead of GetUpdatesChan so we control the offset
			// and can abort mid-flight through the custom dialer above.
			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return // Ignore error if we are shutting down
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				t.handleIncoming(ctx, update.Message)
			}
		}
	}()

	return nil
}

// handleIncoming binds the chat to a session on first contact, resets the
// idle timer and forwards the text into the gateway core.
func (t *TelegramChannel) handleIncoming(ctx api.ChannelContext, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sessionID := fmt.Sprintf("telegram_%d", chatID)
	userID := strconv.FormatInt(msg.From.ID, 10)

	t.mu.Lock()
	binding, ok := t.chats[chatID]
	if !ok {
		transport := &telegramTransport{
			bot:          t.bot,
			chatID:       chatID,
			messageLimit: t.messageLimit,
		}
		if err := ctx.Attach(sessionID, userID, transport); err != nil {
			t.mu.Unlock()
			slog.Error("Failed to attach telegram session", "session", sessionID, "error", err)
			return
		}
		binding = &chatBinding{
			sessionID: sessionID,
			transport: transport,
		}
		binding.idle = time.AfterFunc(t.idleTimeout, func() {
			t.expireChat(ctx, chatID)
		})
		t.chats[chatID] = binding
		slog.Info("✓ Telegram chat attached", "session", sessionID, "user", msg.From.UserName)
	} else {
		binding.idle.Reset(t.idleTimeout)
	}
	t.mu.Unlock()

	ctx.OnMessage(sessionID, msg.Text)
}

// expireChat detaches an idle chat session. The gateway fires the disconnect
// hook which closes the session and schedules its summary.
func (t *TelegramChannel) expireChat(ctx api.ChannelContext, chatID int64) {
	t.mu.Lock()
	binding, ok := t.chats[chatID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.chats, chatID)
	t.mu.Unlock()

	slog.Info("✗ Telegram chat idle, detaching", "session", binding.sessionID)
	ctx.Detach(binding.sessionID)
}

func (t *TelegramChannel) Stop() error {
	t.stopStop() // Abort the long-polling loop immediately

	t.mu.Lock()
	for chatID, binding := range t.chats {
		binding.idle.Stop()
		delete(t.chats, chatID)
	}
	t.mu.Unlock()

	// Clear the connection pool. Active HTTP/1.1 reads exit through stopCtx.
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	return nil
}

//----------------------------------------------------------------
// Transport
//----------------------------------------------------------------

// telegramTransport implements api.Transport with an accumulation strategy.
// Telegram doesn't support mid-message streaming updates, so chunk frames
// are buffered and flushed as whole bubbles when the response ends.
type telegramTransport struct {
	bot          *tgbotapi.BotAPI
	chatID       int64
	messageLimit int

	mu  sync.Mutex
	buf strings.Builder
}

func (tt *telegramTransport) WriteFrame(f api.Frame) error {
	switch f.Type {
	case api.FrameSystem:
		// Connection acknowledgements are meaningless in a chat window
		return nil

	case api.FrameResponseStart:
		tt.mu.Lock()
		tt.buf.Reset()
		tt.mu.Unlock()
		// Show "typing..." while the model streams
		action := tgbotapi.NewChatAction(tt.chatID, tgbotapi.ChatTyping)
		if _, err := tt.bot.Send(action); err != nil {
			slog.Debug("Failed to send typing action", "error", err)
		}
		return nil

	case api.FrameResponseChunk:
		tt.mu.Lock()
		tt.buf.WriteString(f.Content)
		tt.mu.Unlock()
		return nil

	case api.FrameResponseEnd:
		tt.mu.Lock()
		text := tt.buf.String()
		tt.buf.Reset()
		tt.mu.Unlock()
		if text == "" {
			return nil
		}
		return tt.send(text)

	case api.FrameError:
		tt.mu.Lock()
		tt.buf.Reset()
		tt.mu.Unlock()
		return tt.send("⚠ " + f.Content)
	}

	return nil
}

// Close implements api.Transport. Long-polling has no per-chat connection to
// tear down, so this only drops any half-accumulated response.
func (tt *telegramTransport) Close() error {
	tt.mu.Lock()
	tt.buf.Reset()
	tt.mu.Unlock()
	return nil
}

// send delivers text to the chat, splitting messages that exceed the
// platform limit into multiple bubbles.
func (tt *telegramTransport) send(message string) error {
	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	if tt.messageLimit <= 0 || totalLen <= tt.messageLimit {
		msg := tgbotapi.NewMessage(tt.chatID, message)
		if _, err := tt.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	for i := 0; i < totalLen; i += tt.messageLimit {
		end := i + tt.messageLimit
		if end > totalLen {
			end = totalLen
		}
		chunk := string(msgRunes[i:end])
		msg := tgbotapi.NewMessage(tt.chatID, chunk)
		if _, err := tt.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}
