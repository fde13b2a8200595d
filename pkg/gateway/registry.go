package gateway

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"aurora/pkg/api"
	"aurora/pkg/monitor"
)

// ErrSessionActive 同一個 session 已有存活連線時回傳
var ErrSessionActive = errors.New("session already has an active connection")

// ConnState 是單一連線的生命週期狀態
type ConnState int32

const (
	StateConnecting ConnState = iota // 已收到連線，connect hook 執行中
	StateOpen                        // 可收發訊框
	StateClosing                     // disconnect hook 執行中
	StateClosed                      // 終態
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// ConnectHook 在連線附掛時執行（建立 session 等）。回傳錯誤會拒絕連線。
type ConnectHook func(sessionID, userID string) error

// DisconnectHook 在連線卸離時執行，每次註冊恰好觸發一次。
type DisconnectHook func(sessionID string)

// conn 是一條存活連線的內部狀態
type conn struct {
	sessionID string
	userID    string
	transport api.Transport
	state     ConnState
	hookOnce  sync.Once
}

// Registry 管理所有 Channels 並以 session_id 為鍵路由存活連線。
// 同一個 session 同時間最多一條連線；訊框投遞是盡力而為，
// 寫入失敗只記 log，不中斷會話。
type Registry struct {
	mu         sync.RWMutex
	channels   map[string]api.Channel
	conns      map[string]*conn
	msgHandler api.MessageHandler
	onConnect  ConnectHook
	onClose    DisconnectHook
	monitor    monitor.Monitor
}

// NewRegistry 建立一個新的 Registry
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]api.Channel),
		conns:    make(map[string]*conn),
	}
}

// SetMessageHandler 設定處理訊息的核心邏輯 (通常是 Agent Engine)
func (g *Registry) SetMessageHandler(handler api.MessageHandler) {
	g.msgHandler = handler
}

// SetConnectHook 設定連線附掛時的回呼
func (g *Registry) SetConnectHook(h ConnectHook) {
	g.onConnect = h
}

// SetDisconnectHook 設定連線卸離時的回呼
func (g *Registry) SetDisconnectHook(h DisconnectHook) {
	g.onClose = h
}

// SetMonitor 設定監控器
func (g *Registry) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// RegisterChannel 註冊一個 Channel
func (g *Registry) RegisterChannel(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// StartAll 啟動所有已註冊的 Channels
func (g *Registry) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		log.Printf("Starting channel: %s", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels 並卸離殘留的連線
func (g *Registry) StopAll() {
	g.mu.RLock()
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.Detach(id)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, c := range g.channels {
		log.Printf("Stopping channel: %s", id)
		if err := c.Stop(); err != nil {
			log.Printf("Error stopping channel %s: %v", id, err)
		}
	}
}

// Attach 實作 api.ChannelContext。為 session 註冊一條存活連線並執行
// connect hook。session 已有未關閉連線時回傳 ErrSessionActive，
// 原連線完全不受影響。
func (g *Registry) Attach(sessionID, userID string, t api.Transport) error {
	g.mu.Lock()
	if existing, ok := g.conns[sessionID]; ok && existing.state != StateClosed {
		g.mu.Unlock()
		log.Printf("[Gateway] Rejected duplicate connection for session %s (state=%s)", sessionID, existing.state)
		return ErrSessionActive
	}

	c := &conn{
		sessionID: sessionID,
		userID:    userID,
		transport: t,
		state:     StateConnecting,
	}
	g.conns[sessionID] = c
	g.mu.Unlock()

	if g.onConnect != nil {
		if err := g.onConnect(sessionID, userID); err != nil {
			g.mu.Lock()
			c.state = StateClosed
			delete(g.conns, sessionID)
			g.mu.Unlock()
			return fmt.Errorf("connect hook for session %s: %w", sessionID, err)
		}
	}

	g.mu.Lock()
	c.state = StateOpen
	g.mu.Unlock()

	log.Printf("[Gateway] Session %s attached (user=%s)", sessionID, userID)
	return nil
}

// Detach 實作 api.ChannelContext。卸離是冪等的：重複呼叫安靜返回，
// disconnect hook 每次註冊恰好觸發一次。
func (g *Registry) Detach(sessionID string) {
	g.mu.Lock()
	c, ok := g.conns[sessionID]
	if !ok {
		g.mu.Unlock()
		return
	}
	c.state = StateClosing
	delete(g.conns, sessionID)
	g.mu.Unlock()

	c.hookOnce.Do(func() {
		if g.onClose != nil {
			g.onClose(sessionID)
		}
	})

	if err := c.transport.Close(); err != nil {
		log.Printf("[Gateway] Error closing transport for session %s: %v", sessionID, err)
	}

	g.mu.Lock()
	c.state = StateClosed
	g.mu.Unlock()

	log.Printf("[Gateway] Session %s detached", sessionID)
}

// State 回傳 session 目前的連線狀態（無連線時回傳 StateClosed）
func (g *Registry) State(sessionID string) ConnState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if c, ok := g.conns[sessionID]; ok {
		return c.state
	}
	return StateClosed
}

// ActiveConnections 回傳目前存活的連線數
func (g *Registry) ActiveConnections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Send 將訊框投遞到 session 的存活連線。盡力而為：連線不存在或
// 寫入失敗只記 log，永不阻塞呼叫端的業務流程。
func (g *Registry) Send(sessionID string, f api.Frame) error {
	g.mu.RLock()
	c, ok := g.conns[sessionID]
	g.mu.RUnlock()

	if !ok || c.state != StateOpen {
		log.Printf("[Gateway] Dropping %s frame for session %s: no open connection", f.Type, sessionID)
		return nil
	}

	if err := c.transport.WriteFrame(f); err != nil {
		log.Printf("[Gateway] Write %s frame to session %s failed: %v", f.Type, sessionID, err)
		return err
	}

	// 只把錯誤訊框廣播到監控器，逐塊增量太吵
	if g.monitor != nil && f.Type == api.FrameError {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "ASSISTANT",
			SessionID:   sessionID,
			Content:     "[error] " + f.Content,
		})
	}
	return nil
}

// OnMessage 實作 api.ChannelContext，接收來自 Channel 的使用者訊息
func (g *Registry) OnMessage(sessionID, content string) {
	log.Printf("[Gateway] <- Received from session %s: %s", sessionID, content)

	g.mu.RLock()
	c, ok := g.conns[sessionID]
	g.mu.RUnlock()
	if !ok || c.state != StateOpen {
		log.Printf("[Gateway] Ignoring message for session %s: no open connection", sessionID)
		return
	}

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "USER",
			SessionID:   sessionID,
			Content:     content,
		})
	}

	if g.msgHandler != nil {
		g.msgHandler(sessionID, content)
	} else {
		log.Println("[Gateway] Warning: No message handler set")
	}
}
