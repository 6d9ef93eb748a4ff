package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType различает подтипы сообщений в чате сделки
type MessageType string

const (
	MessageTypeText        MessageType = "text"         // Обычное сообщение участника
	MessageTypeDealCreated MessageType = "deal_created" // Системное сообщение при создании сделки
)

// Message представляет сообщение в чате сделки.
// Сообщения неизменяемы: редактирования и удаления нет, исправление — новое сообщение.
type Message struct {
	ID        string      `json:"id"` // ULID, лексикографический порядок совпадает с хронологическим
	DealID    uuid.UUID   `json:"deal_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Text      string      `json:"text"`
	System    bool        `json:"system"`
	Type      MessageType `json:"message_type"`
	CreatedAt time.Time   `json:"created_at"`

	// ClientMsgID — корреляционный ID, назначенный клиентом при оптимистичной отправке
	ClientMsgID string `json:"client_msg_id,omitempty"`

	// Дополнительные поля для API
	Sender *User `json:"sender,omitempty"`
}
