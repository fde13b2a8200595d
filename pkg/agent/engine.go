package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"aurora/pkg/api"
	"aurora/pkg/config"
	"aurora/pkg/llm"
	"aurora/pkg/store"
	"aurora/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender 將訊框送往 session 的存活連線（由 gateway.Registry 實作）
type Sender interface {
	Send(sessionID string, f api.Frame) error
}

// Engine 是核心推理引擎。每個 session 有自己的 worker goroutine 與
// FIFO 佇列：同一時間最多一條 completion cycle 在跑，後到的訊息排隊。
// 它實作 api.AgentEngine。
type Engine struct {
	client       llm.LLMClient
	store        store.Store
	toolRegistry api.ToolRegistry
	sender       Sender
	appCfg       *config.Config
	sysCfg       *config.SystemConfig

	mu       sync.Mutex
	workers  map[string]*sessionWorker
	shutdown bool
	wg       sync.WaitGroup
}

// sessionWorker 是單一 session 的處理迴圈狀態
type sessionWorker struct {
	queue chan string
	stop  chan struct{}

	mu          sync.Mutex
	cancelCycle context.CancelFunc // 現行 cycle 的取消器，無 cycle 時為 nil
}

// NewEngine initializes a new Engine with all its collaborators.
func NewEngine(
	client llm.LLMClient,
	st store.Store,
	toolRegistry api.ToolRegistry,
	appCfg *config.Config,
	sysCfg *config.SystemConfig,
) *Engine {
	return &Engine{
		client:       client,
		store:        st,
		toolRegistry: toolRegistry,
		appCfg:       appCfg,
		sysCfg:       sysCfg,
		workers:      make(map[string]*sessionWorker),
	}
}

// SetSender sets the frame delivery interface used by the engine.
func (e *Engine) SetSender(s Sender) {
	e.sender = s
}

// Submit 實作 api.AgentEngine。訊息進入 session 的 FIFO 佇列；
// 佇列滿時丟棄並回覆 error 訊框，絕不阻塞呼叫端（channel 的讀取迴圈）。
func (e *Engine) Submit(sessionID, content string) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	w, ok := e.workers[sessionID]
	if !ok {
		w = &sessionWorker{
			queue: make(chan string, e.queueSize()),
			stop:  make(chan struct{}),
		}
		e.workers[sessionID] = w
		e.wg.Add(1)
		go e.runWorker(sessionID, w)
	}
	e.mu.Unlock()

	select {
	case w.queue <- content:
	default:
		slog.Warn("⚠ Session queue full, dropping message", "session", sessionID)
		e.send(sessionID, api.ErrorFrame("Too many pending messages, please wait for the current response."))
	}
}

// CancelSession 實作 api.AgentEngine。中止 session 現行的 cycle 並
// 釋放 worker；佇列中未處理的訊息一併丟棄。冪等。
func (e *Engine) CancelSession(sessionID string) {
	e.mu.Lock()
	w, ok := e.workers[sessionID]
	if ok {
		delete(e.workers, sessionID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	close(w.stop)
	w.mu.Lock()
	if w.cancelCycle != nil {
		w.cancelCycle()
	}
	w.mu.Unlock()
}

// Shutdown 實作 api.AgentEngine。停止所有 worker 並等待在途 cycle 收尾。
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdown = true
	workers := make(map[string]*sessionWorker, len(e.workers))
	for id, w := range e.workers {
		workers[id] = w
	}
	e.workers = make(map[string]*sessionWorker)
	e.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
		w.mu.Lock()
		if w.cancelCycle != nil {
			w.cancelCycle()
		}
		w.mu.Unlock()
	}
	e.wg.Wait()
}

func (e *Engine) queueSize() int {
	if e.sysCfg != nil && e.sysCfg.SessionQueueSize > 0 {
		return e.sysCfg.SessionQueueSize
	}
	return 16
}

// runWorker 依序消化 session 佇列，一次一條 cycle
func (e *Engine) runWorker(sessionID string, w *sessionWorker) {
	defer e.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case content := <-w.queue:
			e.runCycle(sessionID, w, content)
		}
	}
}

// runCycle 執行一條完整的 completion cycle：持久化使用者訊息、
// 重建對話、串流模型輸出、執行工具鏈、持久化最終回覆。
func (e *Engine) runCycle(sessionID string, w *sessionWorker, content string) {
	timeout := time.Duration(e.sysCfg.LLMTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	w.mu.Lock()
	w.cancelCycle = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancelCycle = nil
		w.mu.Unlock()
	}()

	// CancelSession 可能在這則訊息還在佇列時發生:停止訊號一旦出現,
	// 排在後面的訊息不得再啟動新的 cycle
	select {
	case <-w.stop:
		return
	default:
	}

	if err := e.store.AppendEvent(ctx, sessionID, store.EventUserMessage, content); err != nil {
		slog.Error("Failed to persist user message", "session", sessionID, "error", err)
		e.send(sessionID, api.ErrorFrame("Failed to record your message, please try again."))
		return
	}

	conversation, err := e.buildConversation(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to rebuild conversation", "session", sessionID, "error", err)
		e.send(sessionID, api.ErrorFrame("Failed to load conversation history."))
		return
	}

	e.send(sessionID, api.StartFrame())

	var response strings.Builder
	maxDepth := e.sysCfg.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	for depth := 0; ; depth++ {
		// 鏈到達上限後收回工具目錄，強迫模型收尾
		var availableTools []llm.Tool
		if e.sysCfg.EnableTools && depth < maxDepth {
			for _, t := range e.toolRegistry.GetAll() {
				availableTools = append(availableTools, t)
			}
		}

		chunkCh, err := e.client.StreamChat(ctx, conversation, availableTools)
		if err != nil {
			slog.Error("LLM stream init failed", "session", sessionID, "error", err)
			e.send(sessionID, api.ErrorFrame(fmt.Sprintf("AI service unavailable: %v", err)))
			return
		}

		segment, toolCalls, streamErr := e.consumeStream(ctx, sessionID, chunkCh)
		response.WriteString(segment)

		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// 模型逾時:客戶端還在線上,以 error 訊框回報,
				// 不留部分回覆,會話保持開啟
				slog.Error("LLM cycle timed out", "session", sessionID)
				e.send(sessionID, api.ErrorFrame("AI response timed out, please try again."))
				return
			}
			// 連線斷開:只把已經送出去的部分留檔,不發結束訊框
			e.flushPartial(sessionID, response.String())
			return
		}

		if streamErr != nil {
			slog.Error("LLM stream failed", "session", sessionID, "error", streamErr)
			e.send(sessionID, api.ErrorFrame(fmt.Sprintf("AI response failed: %v", streamErr)))
			return
		}

		if len(toolCalls) == 0 {
			break
		}

		if depth >= maxDepth {
			slog.Warn("⚠ Tool chain depth exceeded", "session", sessionID, "depth", depth)
			break
		}

		conversation = append(conversation, llm.Message{
			Role:      "assistant",
			Content:   []llm.ContentBlock{llm.NewTextBlock(segment)},
			ToolCalls: toolCalls,
			Timestamp: time.Now().Unix(),
		})

		for _, tc := range toolCalls {
			toolMsg, err := e.resolveToolCall(ctx, sessionID, tc)
			if err != nil {
				// 持久化失敗會破壞重建一致性，此輪只能放棄
				slog.Error("Failed to persist tool event", "session", sessionID, "error", err)
				e.send(sessionID, api.ErrorFrame("Failed to record tool activity."))
				return
			}
			conversation = append(conversation, toolMsg)
		}
	}

	final := response.String()
	if err := e.store.AppendEvent(ctx, sessionID, store.EventAssistantMessage, final); err != nil {
		slog.Error("Failed to persist assistant message", "session", sessionID, "error", err)
	}
	e.send(sessionID, api.EndFrame())
}

// consumeStream 讀完一條模型串流：文字增量即時轉發、工具呼叫與
// 錯誤彙整後回傳。ctx 取消時立即返回已收到的部分。
func (e *Engine) consumeStream(ctx context.Context, sessionID string, chunkCh <-chan llm.StreamChunk) (string, []llm.ToolCall, error) {
	var segment strings.Builder
	var toolCalls []llm.ToolCall

	for {
		select {
		case <-ctx.Done():
			return segment.String(), toolCalls, ctx.Err()
		case chunk, ok := <-chunkCh:
			if !ok {
				return segment.String(), toolCalls, nil
			}
			if chunk.RawError != nil {
				return segment.String(), toolCalls, chunk.RawError
			}
			if chunk.Error != "" {
				return segment.String(), toolCalls, fmt.Errorf("%s", chunk.Error)
			}

			for _, block := range chunk.ContentBlocks {
				if block.Type == llm.BlockTypeText && block.Text != "" {
					segment.WriteString(block.Text)
					e.send(sessionID, api.ChunkFrame(block.Text))
				}
			}

			if len(chunk.ToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}

			if chunk.IsFinal {
				if chunk.Usage != nil {
					llm.LogUsage(e.client.Provider(), chunk.Usage)
				}
				return segment.String(), toolCalls, nil
			}
		}
	}
}

// toolCallRecord 是 tool_call 事件的持久化格式
type toolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toolResultRecord 是 tool_result 事件的持久化格式
type toolResultRecord struct {
	ToolCallID string              `json:"tool_call_id"`
	Name       string              `json:"name"`
	Result     jsoniter.RawMessage `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	LatencyMs  int64               `json:"latency_ms"`
}

// resolveToolCall 執行單一工具呼叫並持久化 tool_call / tool_result。
// 工具失敗不中斷 cycle：錯誤以結構化內容回到模型脈絡。
func (e *Engine) resolveToolCall(ctx context.Context, sessionID string, tc llm.ToolCall) (llm.Message, error) {
	callPayload, _ := json.Marshal(toolCallRecord{
		ID:        tc.ID,
		Name:      tc.Name,
		Arguments: tc.Function.Arguments,
	})
	if err := e.store.AppendEvent(ctx, sessionID, store.EventToolCall, string(callPayload)); err != nil {
		return llm.Message{}, err
	}

	var args map[string]any
	var inv tools.InvocationResult
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		inv = tools.InvocationResult{Err: fmt.Sprintf("failed to parse tool arguments: %v", err)}
	} else {
		timeout := time.Duration(e.sysCfg.ToolTimeoutMs) * time.Millisecond
		inv = tools.Invoke(ctx, e.toolRegistry, tc.Name, args, timeout)
	}

	record := toolResultRecord{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Error:      inv.Err,
		LatencyMs:  inv.LatencyMs,
	}
	if !inv.Failed() {
		if raw, err := json.Marshal(inv.Result); err == nil {
			record.Result = raw
		} else {
			record.Error = fmt.Sprintf("failed to encode tool result: %v", err)
		}
	}

	resultPayload, _ := json.Marshal(record)
	if err := e.store.AppendEvent(ctx, sessionID, store.EventToolResult, string(resultPayload)); err != nil {
		return llm.Message{}, err
	}

	return toolResultMessage(tc, record), nil
}

// toolResultMessage 把工具結果折回模型可讀的 tool 訊息
func toolResultMessage(tc llm.ToolCall, record toolResultRecord) llm.Message {
	var body string
	if record.Error != "" {
		payload, _ := json.Marshal(map[string]string{"error": record.Error})
		body = string(payload)
	} else {
		body = string(record.Result)
	}
	return llm.Message{
		Role:       "tool",
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Content:    []llm.ContentBlock{llm.NewTextBlock(body)},
		Timestamp:  time.Now().Unix(),
	}
}

// flushPartial 在 cycle 被取消時，把已經串流給客戶端的文字留檔。
// 沒送出任何字就不寫事件。
func (e *Engine) flushPartial(sessionID, partial string) {
	if partial == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.AppendEvent(ctx, sessionID, store.EventAssistantMessage, partial); err != nil {
		slog.Error("Failed to flush partial assistant message", "session", sessionID, "error", err)
	}
	slog.Info("Flushed partial response after cancellation", "session", sessionID, "chars", len(partial))
}

func (e *Engine) send(sessionID string, f api.Frame) {
	if e.sender == nil {
		return
	}
	_ = e.sender.Send(sessionID, f)
}
