// Package mock provides test doubles for docchat interfaces using function fields.
package mock

import (
	"context"

	"github.com/fwojciec/docchat"
)

// Interface compliance checks.
var (
	_ docchat.Sender         = (*Sender)(nil)
	_ docchat.HistoryFetcher = (*HistoryFetcher)(nil)
	_ docchat.StatusChecker  = (*StatusChecker)(nil)
	_ docchat.FileLister     = (*FileLister)(nil)
)

// Sender is a test double for docchat.Sender.
// Set SendFn before calling Send.
type Sender struct {
	SendFn func(ctx context.Context, req docchat.SendRequest) (docchat.Stream, error)
}

// Send delegates to SendFn.
func (s *Sender) Send(ctx context.Context, req docchat.SendRequest) (docchat.Stream, error) {
	return s.SendFn(ctx, req)
}

// HistoryFetcher is a test double for docchat.HistoryFetcher.
type HistoryFetcher struct {
	FetchPageFn func(ctx context.Context, fileID, cursor string, limit int) (docchat.Page, error)
}

// FetchPage delegates to FetchPageFn.
func (f *HistoryFetcher) FetchPage(ctx context.Context, fileID, cursor string, limit int) (docchat.Page, error) {
	return f.FetchPageFn(ctx, fileID, cursor, limit)
}

// StatusChecker is a test double for docchat.StatusChecker.
type StatusChecker struct {
	UploadStatusFn func(ctx context.Context, fileID string) (docchat.UploadStatus, error)
}

// UploadStatus delegates to UploadStatusFn.
func (s *StatusChecker) UploadStatus(ctx context.Context, fileID string) (docchat.UploadStatus, error) {
	return s.UploadStatusFn(ctx, fileID)
}

// FileLister is a test double for docchat.FileLister.
type FileLister struct {
	ListFilesFn func(ctx context.Context) ([]docchat.File, error)
}

// ListFiles delegates to ListFilesFn.
func (l *FileLister) ListFiles(ctx context.Context) ([]docchat.File, error) {
	return l.ListFilesFn(ctx)
}
