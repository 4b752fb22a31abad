package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/foliolog/internal/db"
	"gorm.io/gorm"
)

// VisitorService 负责访客的页面浏览轨迹。
type VisitorService struct {
	db *gorm.DB
}

// NewVisitorService 构造 VisitorService。
func NewVisitorService(gdb *gorm.DB) *VisitorService {
	return &VisitorService{db: gdb}
}

// TrackPageVisit 记录一次页面浏览。新记录暂定为退出页，
// 同时翻转该访客此前的退出标记，保证任意时刻至多一条退出页。
func (s *VisitorService) TrackPageVisit(visitorID uint, pageURL, pageTitle string, now time.Time) (*db.PageVisit, error) {
	if visitorID == 0 || pageURL == "" {
		return nil, errors.New("invalid visitor or page url")
	}

	visit := db.PageVisit{
		VisitorID: visitorID,
		PageURL:   pageURL,
		PageTitle: pageTitle,
		VisitedAt: now,
		ExitPage:  true,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.PageVisit{}).
			Where("visitor_id = ? AND exit_page = ?", visitorID, true).
			UpdateColumn("exit_page", false).Error; err != nil {
			return err
		}
		return tx.Create(&visit).Error
	})
	if err != nil {
		return nil, fmt.Errorf("track page visit: %w", err)
	}

	return &visit, nil
}
