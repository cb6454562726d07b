package audit

import (
	"context"
	"fmt"
	"time"
)

// TimelineFilters membatasi entri timeline yang diambil.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	UserID     string
	Capability string
	Result     string
	Page       int
	PageSize   int
}

// PagingInfo membawa informasi halaman untuk navigasi.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Entries []DecisionEntry
	Paging  PagingInfo
}

// TimelineRepository menyediakan query yang dibutuhkan service.
type TimelineRepository interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]DecisionEntry, error)
}

// Service mengoordinasikan pengambilan timeline keputusan.
type Service struct {
	repo TimelineRepository
}

// NewService membuat service audit timeline baru.
func NewService(repo TimelineRepository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil entri keputusan dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}
