package db

import "time"

// Visitor 记录一个物理访客的聚合信息，跨请求持续更新。
// 除管理端显式清理外不做删除。
type Visitor struct {
	ID         uint   `gorm:"primaryKey"`
	IPAddress  string `gorm:"size:45;index"`
	UserAgent  string `gorm:"size:255"`
	Referrer   string `gorm:"type:text"`
	Browser    string `gorm:"size:50"`
	OS         string `gorm:"size:50"`
	Device     string `gorm:"size:20"`
	IsBot      bool   `gorm:"default:false"`
	SessionID  string `gorm:"size:64;index"`
	UserID     *uint  `gorm:"index"`
	FirstVisit time.Time
	LastVisit  time.Time
	VisitCount int `gorm:"default:1"`
}

// TableName 指定自定义表名。
func (Visitor) TableName() string {
	return "visitors"
}

// PageVisit 访客的一次页面浏览。
// 同一访客任意时刻至多一条记录的 ExitPage 为 true，插入新记录时翻转旧标记。
type PageVisit struct {
	ID        uint      `gorm:"primaryKey"`
	VisitorID uint      `gorm:"index"`
	PageURL   string    `gorm:"size:255"`
	PageTitle string    `gorm:"size:255"`
	VisitedAt time.Time `gorm:"index"`
	ExitPage  bool      `gorm:"default:false"`
}

// TableName 指定自定义表名。
func (PageVisit) TableName() string {
	return "page_visits"
}
