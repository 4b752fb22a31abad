package service

import (
	"testing"
	"time"

	"github.com/foliolog/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupVisitorTestDB(t *testing.T) func() {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Visitor{}, &db.PageVisit{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func TestTrackPageVisitKeepsSingleExitPage(t *testing.T) {
	cleanup := setupVisitorTestDB(t)
	defer cleanup()

	visitor := db.Visitor{IPAddress: "203.0.113.9", SessionID: "s1"}
	if err := db.DB.Create(&visitor).Error; err != nil {
		t.Fatalf("failed to create visitor: %v", err)
	}

	svc := NewVisitorService(db.DB)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	pages := []string{"/", "/work", "/work/12"}
	for i, page := range pages {
		if _, err := svc.TrackPageVisit(visitor.ID, page, "", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("track %s failed: %v", page, err)
		}
	}

	var exits []db.PageVisit
	if err := db.DB.Where("visitor_id = ? AND exit_page = ?", visitor.ID, true).Find(&exits).Error; err != nil {
		t.Fatalf("failed to load exit pages: %v", err)
	}
	if len(exits) != 1 {
		t.Fatalf("expected exactly one exit page, got %d", len(exits))
	}
	if exits[0].PageURL != "/work/12" {
		t.Fatalf("expected latest visit to be the exit page, got %s", exits[0].PageURL)
	}

	var total int64
	if err := db.DB.Model(&db.PageVisit{}).Where("visitor_id = ?", visitor.ID).Count(&total).Error; err != nil {
		t.Fatalf("failed to count visits: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 visits, got %d", total)
	}
}

func TestTrackPageVisitValidation(t *testing.T) {
	cleanup := setupVisitorTestDB(t)
	defer cleanup()

	svc := NewVisitorService(db.DB)
	now := time.Now().UTC()

	if _, err := svc.TrackPageVisit(0, "/", "", now); err == nil {
		t.Fatal("expected error for zero visitor id")
	}
	if _, err := svc.TrackPageVisit(1, "", "", now); err == nil {
		t.Fatal("expected error for empty page url")
	}
}

func TestTrackPageVisitIndependentVisitors(t *testing.T) {
	cleanup := setupVisitorTestDB(t)
	defer cleanup()

	svc := NewVisitorService(db.DB)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []uint
	for _, session := range []string{"s1", "s2"} {
		visitor := db.Visitor{IPAddress: "203.0.113.9", SessionID: session}
		if err := db.DB.Create(&visitor).Error; err != nil {
			t.Fatalf("failed to create visitor: %v", err)
		}
		ids = append(ids, visitor.ID)
	}

	if _, err := svc.TrackPageVisit(ids[0], "/a", "", base); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	if _, err := svc.TrackPageVisit(ids[1], "/b", "", base.Add(time.Minute)); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	// 一个访客的新浏览不影响另一个访客的退出标记
	var exits int64
	if err := db.DB.Model(&db.PageVisit{}).Where("exit_page = ?", true).Count(&exits).Error; err != nil {
		t.Fatalf("failed to count exit pages: %v", err)
	}
	if exits != 2 {
		t.Fatalf("expected one exit page per visitor, got %d", exits)
	}
}
