// Package api implements the docchat collaborator interfaces over HTTP.
//
// A single [Client] serves as [docchat.Sender], [docchat.HistoryFetcher],
// [docchat.StatusChecker] and [docchat.FileLister]. Answer bodies are
// decoded by package sse. The exported wire types are shared with the
// development server.
package api

import (
	"time"

	"github.com/fwojciec/docchat"
)

const (
	messagePath = "/api/message"
	filesPath   = "/api/files"
)

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	FileID  string `json:"fileId"`
	Message string `json:"message"`
}

// WireMessage is one message in a history page.
type WireMessage struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	IsUserMessage bool      `json:"isUserMessage"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessagesResponse is the body of GET /api/files/{fileId}/messages.
type MessagesResponse struct {
	Messages   []WireMessage `json:"messages"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// StatusResponse is the body of GET /api/files/{fileId}/status.
type StatusResponse struct {
	Status docchat.UploadStatus `json:"status"`
}

// WireFile is one entry of GET /api/files.
type WireFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

// QuotaResponse is the JSON form of a 402 body. Servers may also send
// plain text.
type QuotaResponse struct {
	Message string    `json:"message"`
	ResetAt time.Time `json:"resetAt,omitzero"`
}

// FromMessage converts m to its wire form.
func FromMessage(m docchat.Message) WireMessage {
	return WireMessage{ID: m.ID, Text: m.Text, IsUserMessage: m.IsUserMessage, CreatedAt: m.CreatedAt}
}

// ToMessage converts w to a domain message.
func (w WireMessage) ToMessage() docchat.Message {
	return docchat.Message{ID: w.ID, Text: w.Text, IsUserMessage: w.IsUserMessage, CreatedAt: w.CreatedAt}
}

// ToFile converts w to a domain file.
func (w WireFile) ToFile() docchat.File {
	return docchat.File{ID: w.ID, Name: w.Name, CreatedAt: w.CreatedAt, MessageCount: w.MessageCount}
}
