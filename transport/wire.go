// Package transport carries the persistent bidirectional connection and the
// REST fallback surface. Frames are a closed JSON envelope: a type tag plus
// a typed payload, switched exhaustively on both sides so an unknown event
// is a programming error, not a silent drop.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"pairwire/domain"
)

type FrameType string

// Client -> broker operations.
const (
	FrameAuth         FrameType = "auth"
	FrameJoinChannel  FrameType = "join_channel"
	FrameLeaveChannel FrameType = "leave_channel"
	FrameSendMessage  FrameType = "send_message"
	FrameMarkRead     FrameType = "mark_read"
	FrameAckReceived  FrameType = "ack_received"
	FrameHeartbeat    FrameType = "heartbeat"
)

// Broker -> client events.
const (
	FrameWelcome            FrameType = "welcome"
	FrameJoined             FrameType = "joined"
	FrameMessageCreated     FrameType = "message_created"
	FrameMessageReadUpdated FrameType = "message_read_updated"
	FrameMessageDelivered   FrameType = "message_delivered"
	FramePresenceChanged    FrameType = "presence_changed"
	FrameError              FrameType = "error"
)

// Error codes carried in error frames. Stable across releases: clients switch
// on them to tell terminal failures (bad credentials) from retryable ones.
const (
	CodeChannelNotFound      = "channel_not_found"
	CodeMessageNotFound      = "message_not_found"
	CodeInvalidPairing       = "invalid_pairing"
	CodeInvalidContent       = "invalid_content"
	CodeAuthenticationFailed = "authentication_failed"
	CodeInternal             = "internal"
)

// Frame is the wire envelope. Payload is decoded according to Type.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewFrame(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: raw}, nil
}

func (f Frame) Decode(into any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame %s has no payload", f.Type)
	}
	return json.Unmarshal(f.Payload, into)
}

// --- Client operation payloads ---

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type LeaveChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type SendMessagePayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	TempID    string `json:"temp_id"`
}

type MarkReadPayload struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []string `json:"message_ids"`
}

type AckReceivedPayload struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []string `json:"message_ids"`
}

// --- Server event payloads ---

type WelcomePayload struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role"`
	Online      []string `json:"online"`
}

type JoinedPayload struct {
	ChannelID string `json:"channel_id"`
}

type MessageDTO struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ReadBy     []string  `json:"read_by"`
}

type MessageCreatedPayload struct {
	Message MessageDTO `json:"message"`
	TempID  string     `json:"temp_id,omitempty"`
}

type MessageReadUpdatedPayload struct {
	ChannelID string   `json:"channel_id"`
	MessageID string   `json:"message_id"`
	ReadBy    []string `json:"read_by"`
}

type MessageDeliveredPayload struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []string `json:"message_ids"`
	ReceiverID string   `json:"receiver_id"`
}

type PresenceChangedPayload struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"` // set when a send_message failed
}

func ToMessageDTO(m domain.Message) MessageDTO {
	return MessageDTO{
		ID:         m.ID.String(),
		ChannelID:  string(m.ChannelID),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		ReadBy:     m.ReadBy,
	}
}

func ToMessageDTOs(msgs []domain.Message) []MessageDTO {
	return lo.Map(msgs, func(m domain.Message, _ int) MessageDTO {
		return ToMessageDTO(m)
	})
}

func FromMessageDTO(dto MessageDTO) (domain.Message, error) {
	id, err := uuid.Parse(dto.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:         id,
		ChannelID:  domain.ChannelID(dto.ChannelID),
		SenderID:   dto.SenderID,
		SenderName: dto.SenderName,
		Content:    dto.Content,
		CreatedAt:  dto.CreatedAt.UTC(),
		ReadBy:     dto.ReadBy,
	}, nil
}
