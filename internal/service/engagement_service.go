package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foliolog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultViewDedupWindow    = 24 * time.Hour
	defaultLikeToggleCooldown = 30 * time.Second
)

var (
	// ErrEngagementUpdate 互动写入失败，事务已回滚，调用方可重试。
	ErrEngagementUpdate = errors.New("engagement update failed")
	// ErrIdentityEmpty 身份不含任何可用信号时返回。
	ErrIdentityEmpty = errors.New("identity has no usable signal")
)

// EngagementService 负责浏览计数与点赞切换的去重逻辑。
// 冗余计数与明细行在同一事务内更新，唯一索引兜底并发竞态。
type EngagementService struct {
	db           *gorm.DB
	viewWindow   time.Duration
	likeCooldown time.Duration
}

// NewEngagementService 创建 EngagementService，默认 24 小时防重放窗口、30 秒点赞冷却。
func NewEngagementService(gdb *gorm.DB) *EngagementService {
	return &EngagementService{
		db:           gdb,
		viewWindow:   defaultViewDedupWindow,
		likeCooldown: defaultLikeToggleCooldown,
	}
}

// WithViewWindow 调整浏览去重窗口，非正值忽略。
func (s *EngagementService) WithViewWindow(d time.Duration) *EngagementService {
	if d > 0 {
		s.viewWindow = d
	}
	return s
}

// WithLikeCooldown 调整点赞冷却时间，非正值忽略。
func (s *EngagementService) WithLikeCooldown(d time.Duration) *EngagementService {
	if d > 0 {
		s.likeCooldown = d
	}
	return s
}

// ViewResult 描述一次浏览记录的结果。
type ViewResult struct {
	IsNewView  bool
	TotalViews uint64
}

// LikeResult 描述一次点赞切换的结果。
// Throttled 为 true 表示取消点赞落在冷却期内被拒绝，状态未变。
type LikeResult struct {
	Liked      bool
	TotalLikes uint64
	Throttled  bool
}

// RecordView 记录一次浏览。同一身份在窗口内的重复浏览只更新活跃时间；
// 超出窗口的旧记录按新浏览重新计数（长期回访访客重计是既定策略）。
func (s *EngagementService) RecordView(portfolioID uint, id Identity, now time.Time) (ViewResult, error) {
	if portfolioID == 0 {
		return ViewResult{}, errors.New("invalid portfolio id")
	}

	var res ViewResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item db.PortfolioItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, portfolioID).Error; err != nil {
			return err
		}

		where, args, ok := identityFilter(id)
		if !ok {
			return ErrIdentityEmpty
		}

		// 候选集不带时间过滤：窗口外的旧行复用而不是重插，避开唯一索引
		var rows []db.ContentView
		if err := tx.Where("portfolio_id = ?", portfolioID).
			Where(where, args...).
			Find(&rows).Error; err != nil {
			return err
		}

		cutoff := now.Add(-s.viewWindow)

		if idx := bestMatchIndex(viewRefs(rows), id); idx >= 0 {
			row := rows[idx]
			res.IsNewView = row.LastViewedAt.Before(cutoff)
			if err := tx.Model(&db.ContentView{}).Where("id = ?", row.ID).
				Updates(map[string]interface{}{
					"last_viewed_at": now,
					"view_count":     gorm.Expr("view_count + 1"),
				}).Error; err != nil {
				return err
			}
		} else {
			view := db.ContentView{
				PortfolioID:  portfolioID,
				UserID:       id.UserID,
				VisitorID:    id.VisitorID,
				SessionID:    optional(id.SessionID),
				Fingerprint:  optional(id.Fingerprint),
				IPAddress:    optional(id.IPAddress),
				CreatedAt:    now,
				LastViewedAt: now,
				ViewCount:    1,
			}
			insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&view)
			if insert.Error != nil {
				return insert.Error
			}
			if insert.RowsAffected == 1 {
				res.IsNewView = true
			} else {
				// 并发请求抢先插入，唯一索引折叠为重复浏览
				res.IsNewView = false
			}
		}

		if res.IsNewView {
			if err := tx.Model(&db.PortfolioItem{}).Where("id = ?", portfolioID).
				UpdateColumn("views_count", gorm.Expr("views_count + 1")).Error; err != nil {
				return err
			}
		}

		if err := tx.First(&item, portfolioID).Error; err != nil {
			return err
		}
		res.TotalViews = item.ViewsCount

		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ViewResult{}, err
		}
		return ViewResult{}, fmt.Errorf("%w: %w", ErrEngagementUpdate, err)
	}

	return res, nil
}

// ToggleLike 切换点赞状态。取消 30 秒内刚加上的点赞会被拒绝并原样返回，
// 加点赞从不拒绝。点赞没有时间窗口，是持久的开关而非限频事件。
func (s *EngagementService) ToggleLike(portfolioID uint, id Identity, now time.Time) (LikeResult, error) {
	if portfolioID == 0 {
		return LikeResult{}, errors.New("invalid portfolio id")
	}

	var res LikeResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item db.PortfolioItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, portfolioID).Error; err != nil {
			return err
		}

		where, args, ok := identityFilter(id)
		if !ok {
			return ErrIdentityEmpty
		}

		var rows []db.ContentLike
		if err := tx.Where("portfolio_id = ?", portfolioID).
			Where(where, args...).
			Find(&rows).Error; err != nil {
			return err
		}

		if idx := bestMatchIndex(likeRefs(rows), id); idx >= 0 {
			row := rows[idx]
			if now.Sub(row.CreatedAt) < s.likeCooldown {
				res.Liked = true
				res.Throttled = true
			} else {
				if err := tx.Delete(&db.ContentLike{}, row.ID).Error; err != nil {
					return err
				}
				res.Liked = false
			}
		} else {
			like := db.ContentLike{
				PortfolioID: portfolioID,
				UserID:      id.UserID,
				VisitorID:   id.VisitorID,
				SessionID:   optional(id.SessionID),
				Fingerprint: optional(id.Fingerprint),
				IPAddress:   optional(id.IPAddress),
				CreatedAt:   now,
			}
			insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
			if insert.Error != nil {
				return insert.Error
			}
			// RowsAffected 为 0 说明并发请求已点过，同样视为已点赞
			res.Liked = true
		}

		// 冗余计数直接以存活行数重算，天然自愈，不做增减运算
		var total int64
		if err := tx.Model(&db.ContentLike{}).
			Where("portfolio_id = ?", portfolioID).
			Count(&total).Error; err != nil {
			return err
		}
		res.TotalLikes = uint64(total)

		return tx.Model(&db.PortfolioItem{}).Where("id = ?", portfolioID).
			UpdateColumn("likes_count", total).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LikeResult{}, err
		}
		return LikeResult{}, fmt.Errorf("%w: %v", ErrEngagementUpdate, err)
	}

	return res, nil
}

// ReconcileViews 以存活明细行数重算作品的冗余浏览计数，用于周期性纠偏。
func (s *EngagementService) ReconcileViews(portfolioID uint) (uint64, error) {
	var total int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.ContentView{}).
			Where("portfolio_id = ?", portfolioID).
			Count(&total).Error; err != nil {
			return err
		}
		return tx.Model(&db.PortfolioItem{}).Where("id = ?", portfolioID).
			UpdateColumn("views_count", total).Error
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile views: %w", err)
	}

	return uint64(total), nil
}

// identityFilter 按身份的非空信号拼出 OR 过滤条件。
func identityFilter(id Identity) (string, []interface{}, bool) {
	conds := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if id.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *id.UserID)
	}
	if id.VisitorID != nil {
		conds = append(conds, "visitor_id = ?")
		args = append(args, *id.VisitorID)
	}
	if id.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, id.SessionID)
	}
	if id.Fingerprint != "" {
		conds = append(conds, "fingerprint = ?")
		args = append(args, id.Fingerprint)
	}
	if id.IPAddress != "" {
		conds = append(conds, "ip_address = ?")
		args = append(args, id.IPAddress)
	}

	if len(conds) == 0 {
		return "", nil, false
	}
	return strings.Join(conds, " OR "), args, true
}

func viewRefs(rows []db.ContentView) []engagementRef {
	refs := make([]engagementRef, len(rows))
	for i := range rows {
		refs[i] = engagementRef{
			userID:      rows[i].UserID,
			visitorID:   rows[i].VisitorID,
			sessionID:   rows[i].SessionID,
			fingerprint: rows[i].Fingerprint,
			ipAddress:   rows[i].IPAddress,
		}
	}
	return refs
}

func likeRefs(rows []db.ContentLike) []engagementRef {
	refs := make([]engagementRef, len(rows))
	for i := range rows {
		refs[i] = engagementRef{
			userID:      rows[i].UserID,
			visitorID:   rows[i].VisitorID,
			sessionID:   rows[i].SessionID,
			fingerprint: rows[i].Fingerprint,
			ipAddress:   rows[i].IPAddress,
		}
	}
	return refs
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
