package db

import "time"

// ContentView 浏览去重记录：每个 (作品, 身份) 一行。
// 身份列均可为空，SQLite 的唯一索引对 NULL 互不冲突，
// 因此三组复合唯一索引只约束非空的 user/visitor/fingerprint。
type ContentView struct {
	ID           uint    `gorm:"primaryKey"`
	PortfolioID  uint    `gorm:"index;uniqueIndex:uix_view_item_user;uniqueIndex:uix_view_item_visitor;uniqueIndex:uix_view_item_fp"`
	UserID       *uint   `gorm:"uniqueIndex:uix_view_item_user"`
	VisitorID    *uint   `gorm:"uniqueIndex:uix_view_item_visitor"`
	SessionID    *string `gorm:"size:64;index"`
	Fingerprint  *string `gorm:"size:64;uniqueIndex:uix_view_item_fp"`
	IPAddress    *string `gorm:"size:45;index"`
	CreatedAt    time.Time
	LastViewedAt time.Time `gorm:"index"`
	ViewCount    int       `gorm:"default:1"`
}

// TableName 指定自定义表名。
func (ContentView) TableName() string {
	return "content_views"
}

// ContentLike 点赞记录：存在即表示“当前已点赞”，取消点赞即删除。
// 作品表的冗余点赞数始终等于该作品的存活行数。
type ContentLike struct {
	ID          uint    `gorm:"primaryKey"`
	PortfolioID uint    `gorm:"index;uniqueIndex:uix_like_item_user;uniqueIndex:uix_like_item_visitor;uniqueIndex:uix_like_item_fp"`
	UserID      *uint   `gorm:"uniqueIndex:uix_like_item_user"`
	VisitorID   *uint   `gorm:"uniqueIndex:uix_like_item_visitor"`
	SessionID   *string `gorm:"size:64;index"`
	Fingerprint *string `gorm:"size:64;uniqueIndex:uix_like_item_fp"`
	IPAddress   *string `gorm:"size:45;index"`
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (ContentLike) TableName() string {
	return "content_likes"
}
