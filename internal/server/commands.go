package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/chat"
	"github.com/hyperide/backend/internal/protocol"
	"github.com/hyperide/backend/internal/workspace"
	"go.uber.org/zap"
)

// dispatchCommand routes one inbound websocket command. The effective actor
// always comes from the authenticated session; role and user fields inside
// payloads are wire-shape compatibility only and are never trusted.
func (h *httpHandler) dispatchCommand(ctx context.Context, session auth.Session, envelope protocol.CommandEnvelope) {
	actor := workspace.Actor{User: session.User, Role: session.Role}

	switch envelope.Action {
	case protocol.ActionEdit:
		var event workspace.EditEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			h.logger.Warn("malformed edit payload", zap.Error(err))
			return
		}
		response, err := h.registry.ApplyEdit(ctx, event, actor)
		if err != nil {
			h.logger.Error("edit application failed", zap.Error(err),
				zap.String("user", actor.User), zap.String("file", event.FileName))
			response = workspace.EditResponse{
				Type:     workspace.ResponseTypeError,
				Content:  "Server failed to apply the edit.",
				User:     actor.User,
				FileName: event.FileName,
			}
		}
		h.publishEditResponse(response)

	case protocol.ActionChatSend:
		var message chat.Message
		if err := json.Unmarshal(envelope.Payload, &message); err != nil {
			h.logger.Warn("malformed chat payload", zap.Error(err))
			return
		}
		message.Sender = session.User
		stamped := h.chat.Stamp(message)
		payload, err := json.Marshal(stamped)
		if err != nil {
			return
		}
		h.broker.Publish(broker.Message{
			Topic:   broker.TopicPublic,
			Type:    protocol.FrameChatMessage,
			Payload: payload,
		})

	case protocol.ActionPresence:
		var ping protocol.PresencePing
		if err := json.Unmarshal(envelope.Payload, &ping); err != nil {
			h.logger.Warn("malformed presence payload", zap.Error(err))
			return
		}
		h.presence.Ping(session.User, ping.File)
		snapshot, err := json.Marshal(h.presence.Snapshot())
		if err != nil {
			return
		}
		h.broker.Publish(broker.Message{
			Topic:   broker.TopicPresence,
			Type:    protocol.FramePresenceMap,
			Payload: snapshot,
		})

	case protocol.ActionFileCreate:
		var request protocol.FileCreate
		if err := json.Unmarshal(envelope.Payload, &request); err != nil {
			h.logger.Warn("malformed file create payload", zap.Error(err))
			return
		}
		if err := h.registry.Create(ctx, request.Name, request.Creator, actor); err != nil {
			h.rejectFileCommand(actor, err, request.Creator+"/"+request.Name)
			return
		}
		h.broker.Publish(broker.Message{Topic: broker.TopicFiles, Type: protocol.FrameFileListChanged})

	case protocol.ActionFileDelete:
		var request protocol.FileDelete
		if err := json.Unmarshal(envelope.Payload, &request); err != nil {
			h.logger.Warn("malformed file delete payload", zap.Error(err))
			return
		}
		if err := h.registry.Delete(ctx, request.Path, actor); err != nil {
			h.rejectFileCommand(actor, err, request.Path)
			return
		}
		h.broker.Publish(broker.Message{Topic: broker.TopicFiles, Type: protocol.FrameFileListChanged})

	default:
		h.logger.Warn("unknown command action", zap.String("action", envelope.Action))
	}
}

// rejectFileCommand surfaces a registry rejection to the offending user
// only, as an ERROR frame on the updates topic. The file-list topic stays
// quiet so other clients do not refetch for nothing.
func (h *httpHandler) rejectFileCommand(actor workspace.Actor, err error, path string) {
	content := "Operation failed."
	switch {
	case errors.Is(err, workspace.ErrPermissionDenied):
		content = "Access Denied."
	case errors.Is(err, workspace.ErrInvalidPath):
		content = "Invalid file path."
	default:
		h.logger.Error("file command failed", zap.Error(err),
			zap.String("user", actor.User), zap.String("path", path))
	}
	h.publishEditResponse(workspace.EditResponse{
		Type:     workspace.ResponseTypeError,
		Content:  content,
		User:     actor.User,
		FileName: path,
	})
}

func (h *httpHandler) publishEditResponse(response workspace.EditResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("failed to encode edit response", zap.Error(err))
		return
	}
	h.broker.Publish(broker.Message{
		Topic:   broker.TopicUpdates,
		Type:    response.Type,
		Payload: payload,
	})
}
