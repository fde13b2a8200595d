package agent

import (
	"context"
	"fmt"
	"time"

	"aurora/pkg/llm"
	"aurora/pkg/store"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Keep your responses concise and conversational."

// buildConversation 由事件日誌重建模型脈絡。同一份事件永遠重建出
// 同一份對話，所以 cycle 之間不需要任何記憶體內的歷史狀態。
func (e *Engine) buildConversation(ctx context.Context, sessionID string) ([]llm.Message, error) {
	events, err := e.store.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prompt := e.appCfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	prompt = fmt.Sprintf("%s\n\nCurrent date and time: %s", prompt, time.Now().Format("2006-01-02 15:04 (Monday)"))

	msgs := []llm.Message{llm.NewSystemMessage(prompt)}

	for _, ev := range events {
		switch ev.EventType {
		case store.EventUserMessage:
			msgs = append(msgs, llm.NewUserMessage(ev.Content))

		case store.EventAssistantMessage:
			msgs = append(msgs, llm.NewAssistantMessage(ev.Content))

		case store.EventToolCall:
			var rec toolCallRecord
			if err := json.Unmarshal([]byte(ev.Content), &rec); err != nil {
				return nil, fmt.Errorf("corrupt tool_call event %d: %w", ev.ID, err)
			}
			msgs = append(msgs, llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:   rec.ID,
					Name: rec.Name,
					Function: llm.FunctionCall{
						Name:      rec.Name,
						Arguments: rec.Arguments,
					},
				}},
				Timestamp: ev.CreatedAt.Unix(),
			})

		case store.EventToolResult:
			var rec toolResultRecord
			if err := json.Unmarshal([]byte(ev.Content), &rec); err != nil {
				return nil, fmt.Errorf("corrupt tool_result event %d: %w", ev.ID, err)
			}
			tc := llm.ToolCall{ID: rec.ToolCallID, Name: rec.Name}
			msgs = append(msgs, toolResultMessage(tc, rec))

			// system / error 事件不進入模型脈絡
		}
	}

	return msgs, nil
}
