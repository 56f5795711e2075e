package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360studio/lisa/llm"
)

// ProtocolVersionHeader marks the data-stream protocol version on the
// SSE response.
const (
	ProtocolVersionHeader = "x-vercel-ai-data-stream"
	ProtocolVersion       = "v2"
)

// SSEEncoder frames protocol events as Server-Sent Events on an HTTP
// response. One encoder serves one response; it is not safe for
// concurrent use (the Writer already serializes emission).
type SSEEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	failed  bool
}

// NewSSEEncoder prepares the response for streaming and flushes the
// headers. Returns an error when the transport cannot stream.
func NewSSEEncoder(w http.ResponseWriter, logger *slog.Logger) (*SSEEncoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by transport")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.Header().Set(ProtocolVersionHeader, ProtocolVersion)
	flusher.Flush()

	return &SSEEncoder{w: w, flusher: flusher, logger: logger}, nil
}

// Emit writes one event. After the first write failure (client gone)
// emission becomes a no-op; the driver notices via Failed.
func (e *SSEEncoder) Emit(ev Event) {
	if e.failed {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("Failed to marshal stream event", "type", ev.Type, "error", err)
		return
	}

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.logger.Debug("Client disconnected during event", "error", err)
		e.failed = true
		return
	}
	e.flusher.Flush()
}

// Close terminates the stream.
func (e *SSEEncoder) Close() {
	if e.failed {
		return
	}
	if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
		e.failed = true
		return
	}
	e.flusher.Flush()
}

// Failed reports whether the client went away.
func (e *SSEEncoder) Failed() bool {
	return e.failed
}

// Sanitize converts an internal error into a wire-safe message: no
// stack traces, no secrets, no upstream response bodies. Classified
// LLM errors map by kind; everything else gets a generic message.
func Sanitize(err error) string {
	if err == nil {
		return "internal error"
	}

	if llm.IsFatal(err) {
		switch llm.ErrorKind(err) {
		case llm.KindAuth:
			return "AI 服务认证失败，请检查 API Key 配置"
		case llm.KindRateLimit:
			return "AI 服务配额不足或请求过于频繁，请稍后重试"
		case llm.KindConfig:
			return "AI 服务配置无效，请检查模型与 Base URL 配置"
		case llm.KindBadOutput:
			return "AI 服务返回了无法解析的内容，请重试"
		}
	}
	if llm.IsTransient(err) || strings.Contains(err.Error(), "context deadline exceeded") {
		return "AI 服务暂时不可用，请稍后重试"
	}
	return "处理请求时发生错误，请稍后重试"
}
