package docchat

import (
	"context"
	"time"
)

// SendRequest is the body of a message submission.
type SendRequest struct {
	FileID  string
	Message string
}

// Sender submits a user message and streams back the answer. A quota
// refusal is reported as *QuotaError, other non-success responses as
// *HTTPError; no stream is returned in either case.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (Stream, error)
}

// HistoryFetcher fetches authoritative history one page at a time, newest
// first. An empty cursor fetches the newest page.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, fileID, cursor string, limit int) (Page, error)
}

// UploadStatus is the processing state of an uploaded document.
type UploadStatus string

const (
	UploadPending    UploadStatus = "PENDING"
	UploadProcessing UploadStatus = "PROCESSING"
	UploadFailed     UploadStatus = "FAILED"
	UploadSuccess    UploadStatus = "SUCCESS"
)

// Settled reports whether the status will not change without user action.
func (s UploadStatus) Settled() bool {
	return s == UploadSuccess || s == UploadFailed
}

// AcceptsMessages reports whether a turn may be submitted.
func (s UploadStatus) AcceptsMessages() bool {
	return s != UploadProcessing && s != UploadFailed
}

// StatusChecker reports a document's upload status.
type StatusChecker interface {
	UploadStatus(ctx context.Context, fileID string) (UploadStatus, error)
}

// File describes an uploaded document.
type File struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	MessageCount int
}

// FileLister lists the user's documents, newest first.
type FileLister interface {
	ListFiles(ctx context.Context) ([]File, error)
}
