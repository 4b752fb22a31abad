package db

import "time"

// User 站点注册用户。登录与权限由外部模块负责，这里只保留统计所需的字段。
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:64;uniqueIndex"`
	Email     string `gorm:"size:120;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
