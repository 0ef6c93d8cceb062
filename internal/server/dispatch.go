package server

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/events"
	"github.com/ppiankov/lai/internal/model"
	"github.com/ppiankov/lai/internal/protocol"
)

// Defaults for the development-only create operation.
const (
	devContent           = "Test message"
	devConversationTitle = "Dev Test Conversation"
	devModel             = "dev-model"
	devProvider          = "dev-provider"
)

// Dispatch routes one envelope and returns its response. Unknown kinds are
// acknowledged without side effects so newer clients keep working.
func (s *Server) Dispatch(ctx context.Context, env *protocol.Envelope) protocol.Response {
	switch env.Kind {
	case protocol.KindNotify:
		s.emit(events.TopicNotify, env.Text())
		return protocol.OK()

	case protocol.KindAsk:
		var payload any = env.Text()
		if env.HasPayload() {
			payload = env.Payload
		}
		s.emit(events.TopicAsk, payload)
		return protocol.OK()

	case protocol.KindLast:
		return s.last(ctx)

	case protocol.KindCreate:
		return s.create(ctx, env)

	default:
		s.logger.Debug("ignoring unknown kind", zap.String("kind", env.Kind))
		return protocol.OK()
	}
}

func (s *Server) emit(topic string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(topic, payload); err != nil {
		s.logger.Warn("event emit failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *Server) last(ctx context.Context) protocol.Response {
	if s.store == nil {
		return protocol.Error(protocol.ErrTextNoMessages)
	}
	msg, err := s.store.LastAssistantMessage(ctx)
	if err != nil {
		s.logger.Warn("last message lookup failed", zap.Error(err))
		return protocol.Error(err.Error())
	}
	if msg == nil {
		return protocol.Error(protocol.ErrTextNoMessages)
	}
	return protocol.OKData(msg)
}

// create inserts an assistant message for UI testing. The payload is read
// leniently: non-string fields fall back to their defaults.
func (s *Server) create(ctx context.Context, env *protocol.Envelope) protocol.Response {
	if !s.cfg.DevMode {
		return protocol.Error(protocol.ErrTextCreateDisabled)
	}
	if !env.HasPayload() {
		return protocol.Error(protocol.ErrTextNoPayload)
	}
	if s.store == nil {
		return protocol.Error("conversation store unavailable")
	}

	var fields map[string]json.RawMessage
	_ = json.Unmarshal(env.Payload, &fields)

	content := stringField(fields, "content")
	if content == "" {
		content = devContent
	}

	convID := stringField(fields, "conversation_id")
	if convID == "" {
		conv, err := s.store.CreateConversation(ctx, model.NewConversation{
			Title:    devConversationTitle,
			Model:    devModel,
			Provider: devProvider,
		})
		if err != nil {
			s.logger.Warn("dev conversation create failed", zap.Error(err))
			return protocol.Error(err.Error())
		}
		convID = conv.ID
	}

	msg, err := s.store.CreateMessage(ctx, model.NewMessage{
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        content,
	})
	if err != nil {
		s.logger.Warn("dev message create failed", zap.String("conversation_id", convID), zap.Error(err))
		return protocol.Error(err.Error())
	}
	return protocol.OKData(msg)
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
