package api

// Frame type constants define the closed set of server-to-client frame
// types. Clients send raw text; the server always answers with one of these.
const (
	FrameSystem        = "system"            // connection/session established
	FrameResponseStart = "ai_response_start" // generation begins
	FrameResponseChunk = "ai_response_chunk" // one token/text delta
	FrameResponseEnd   = "ai_response_end"   // generation complete, turn persisted
	FrameError         = "error"             // recoverable failure, session stays open
)

// Frame 是伺服器送往客戶端的標準訊框（每行一個 JSON）
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SystemFrame 建立連線確認訊框（帶 session_id 讓客戶端得知實際識別碼）
func SystemFrame(sessionID, content string) Frame {
	return Frame{Type: FrameSystem, Content: content, SessionID: sessionID}
}

// StartFrame 建立回應開始訊框
func StartFrame() Frame {
	return Frame{Type: FrameResponseStart}
}

// ChunkFrame 建立單一增量訊框
func ChunkFrame(content string) Frame {
	return Frame{Type: FrameResponseChunk, Content: content}
}

// EndFrame 建立回應結束訊框
func EndFrame() Frame {
	return Frame{Type: FrameResponseEnd}
}

// ErrorFrame 建立錯誤訊框（會話保持開啟）
func ErrorFrame(content string) Frame {
	return Frame{Type: FrameError, Content: content}
}
