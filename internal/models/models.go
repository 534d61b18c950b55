package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID            int64     `json:"id"`
	ConvID        int64     `json:"conversation_id"`
	Role          string    `json:"role"` // user, assistant, system, or tool
	Content       string    `json:"content"`
	SpeechContent string    `json:"speech_content,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Memory struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
