package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/c360studio/lisa/session"
	"github.com/c360studio/lisa/stream"
	"github.com/c360studio/lisa/workflow"
)

// StreamRequest is the body of POST /sessions/{id}/messages/v2/stream.
// It mirrors the useChat request envelope; only the trailing user
// message is consumed, earlier entries are client-side echo.
type StreamRequest struct {
	Messages []StreamMessage `json:"messages"`
}

// StreamMessage is one chat message in the stream request.
type StreamMessage struct {
	Role        string               `json:"role"`
	Content     string               `json:"content"`
	Attachments []session.Attachment `json:"experimental_attachments,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Session lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	var req StreamRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incoming, ok := lastUserMessage(req.Messages)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "no user message in request")
		return
	}

	activation := workflow.IsActivationMessage(incoming.Content)
	if err := s.checkLength(incoming.Content, activation); err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	// The stored row keeps the raw content; attachment bodies are only
	// folded into the model prompt.
	row := &session.Message{
		SessionID:   id,
		MessageType: session.TypeUser,
		Content:     incoming.Content,
	}
	if activation {
		row.MessageType = session.TypeSystem
	}
	if len(incoming.Attachments) > 0 {
		row.AttachedFiles, _ = json.Marshal(incoming.Attachments)
	}
	if err := s.store.AddMessage(r.Context(), row); err != nil {
		s.logger.Error("Message persist failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	prompt := incoming.Content
	if len(incoming.Attachments) > 0 {
		folded, err := session.FoldAttachments(prompt, incoming.Attachments)
		if err != nil {
			s.logger.Warn("Attachment decode failed, sending message without attachments",
				"session_id", id, "error", err)
		} else {
			prompt = folded
		}
	}

	enc, err := stream.NewSSEEncoder(w, s.logger)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer enc.Close()

	sink := enc.Emit
	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
		sink = func(ev stream.Event) {
			s.metrics.StreamEvents.WithLabelValues(ev.Type).Inc()
			enc.Emit(ev)
		}
	}

	role := workflow.RoleUser
	if activation {
		role = workflow.RoleSystem
	}
	turnMsg := workflow.Message{
		ID:        row.ID,
		Role:      role,
		Content:   prompt,
		CreatedAt: row.CreatedAt,
	}

	started := time.Now()
	state, runErr := s.svc.StreamTurn(r.Context(), id, sess.AssistantType, turnMsg, sink)
	if s.metrics != nil {
		s.metrics.ObserveTurn(sess.AssistantType, time.Since(started), runErr)
	}
	if runErr != nil {
		// The error event already went out on the stream.
		return
	}

	s.persistReply(r, id, state)
	if s.limits.PersistContext {
		if err := s.store.UpdateContext(r.Context(), id, state.CurrentStageID, map[string]any{
			"workflow":  state.CurrentWorkflow,
			"artifacts": state.Artifacts,
		}); err != nil {
			s.logger.Warn("Context persist failed", "session_id", id, "error", err)
		}
	}
}

// persistReply stores the assistant's reply row so GET /messages shows it
// before the client syncs. Sync-on-finish later overwrites the same row
// by id with the client's rendered copy.
func (s *Server) persistReply(r *http.Request, id string, state *workflow.AgentState) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role != workflow.RoleAssistant {
			continue
		}
		msgID := m.ID
		if msgID == "" {
			msgID = uuid.NewString()
		}
		row := &session.Message{
			ID:          msgID,
			SessionID:   id,
			MessageType: session.TypeAI,
			Content:     m.Content,
			CreatedAt:   m.CreatedAt,
		}
		if err := s.store.AddMessage(r.Context(), row); err != nil {
			s.logger.Warn("Reply persist failed", "session_id", id, "error", err)
		}
		return
	}
}

func (s *Server) checkLength(content string, activation bool) error {
	n := utf8.RuneCountInString(content)
	if activation {
		if n > s.limits.ActivationMaxLen {
			return errors.New("activation message exceeds length limit")
		}
		return nil
	}
	if n > s.limits.MessageMaxLen {
		return errors.New("message exceeds length limit")
	}
	return nil
}

func lastUserMessage(msgs []StreamMessage) (StreamMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i], true
		}
	}
	return StreamMessage{}, false
}
