package db

import "time"

// PortfolioItem 作品集条目。浏览/点赞的冗余计数与互动明细表在同一事务内维护。
type PortfolioItem struct {
	ID         uint   `gorm:"primaryKey"`
	Title      string `gorm:"size:200"`
	ViewsCount uint64 `gorm:"default:0"`
	LikesCount uint64 `gorm:"default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (PortfolioItem) TableName() string {
	return "portfolio_items"
}

// PortfolioComment 作品评论，仅用于统计口径，评论内容管理在外部模块。
type PortfolioComment struct {
	ID          uint   `gorm:"primaryKey"`
	PortfolioID uint   `gorm:"index"`
	Author      string `gorm:"size:64"`
	Body        string `gorm:"type:text"`
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (PortfolioComment) TableName() string {
	return "portfolio_comments"
}
