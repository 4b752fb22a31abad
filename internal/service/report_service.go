package service

import (
	"fmt"
	"math"
	"time"

	"github.com/foliolog/internal/db"
	"gorm.io/gorm"
)

// ReportService 提供互动与访客数据的只读汇总，全部查询无副作用。
// 无数据时返回零值结构而非错误。
type ReportService struct {
	db *gorm.DB
}

// NewReportService 构造 ReportService。
func NewReportService(gdb *gorm.DB) *ReportService {
	return &ReportService{db: gdb}
}

// TotalStats 站点层面的互动总量。
type TotalStats struct {
	Views    uint64 `json:"views"`
	Likes    int64  `json:"likes"`
	Comments int64  `json:"comments"`
	Users    int64  `json:"users"`
}

// Totals 返回浏览/点赞/评论/用户总量。days>0 时只统计窗口内的数据。
func (s *ReportService) Totals(days int, now time.Time) (TotalStats, error) {
	var stats TotalStats

	filtered := days > 0
	var cutoff time.Time
	if filtered {
		cutoff = now.AddDate(0, 0, -days)
	}

	timeBound := func(query *gorm.DB) *gorm.DB {
		if filtered {
			return query.Where("created_at >= ?", cutoff)
		}
		return query
	}

	var totals struct{ Views uint64 }
	if err := timeBound(s.db.Model(&db.PortfolioItem{})).
		Select("COALESCE(SUM(views_count), 0) AS views").
		Scan(&totals).Error; err != nil {
		return stats, fmt.Errorf("total views: %w", err)
	}
	stats.Views = totals.Views

	if err := timeBound(s.db.Model(&db.ContentLike{})).Count(&stats.Likes).Error; err != nil {
		return stats, fmt.Errorf("total likes: %w", err)
	}
	if err := timeBound(s.db.Model(&db.PortfolioComment{})).Count(&stats.Comments).Error; err != nil {
		return stats, fmt.Errorf("total comments: %w", err)
	}
	if err := timeBound(s.db.Model(&db.User{})).Count(&stats.Users).Error; err != nil {
		return stats, fmt.Errorf("total users: %w", err)
	}

	return stats, nil
}

// TrendData 按天的互动趋势序列，标签与各序列等长。
type TrendData struct {
	Labels   []string `json:"labels"`
	Views    []int64  `json:"views"`
	Likes    []int64  `json:"likes"`
	Comments []int64  `json:"comments"`
}

// Trend 返回最近 days 天（含当天）的每日浏览/点赞/评论序列。
func (s *ReportService) Trend(days int, now time.Time) (TrendData, error) {
	if days <= 0 {
		days = 30
	}

	start := now.UTC().AddDate(0, 0, -days)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)

	views, err := s.dailyCounts(&db.ContentView{}, "created_at", startDay)
	if err != nil {
		return TrendData{}, fmt.Errorf("view trend: %w", err)
	}
	likes, err := s.dailyCounts(&db.ContentLike{}, "created_at", startDay)
	if err != nil {
		return TrendData{}, fmt.Errorf("like trend: %w", err)
	}
	comments, err := s.dailyCounts(&db.PortfolioComment{}, "created_at", startDay)
	if err != nil {
		return TrendData{}, fmt.Errorf("comment trend: %w", err)
	}

	trend := TrendData{
		Labels:   make([]string, 0, days+1),
		Views:    make([]int64, 0, days+1),
		Likes:    make([]int64, 0, days+1),
		Comments: make([]int64, 0, days+1),
	}

	for day := startDay; !day.After(now.UTC()); day = day.AddDate(0, 0, 1) {
		label := day.Format("2006-01-02")
		trend.Labels = append(trend.Labels, label)
		trend.Views = append(trend.Views, views[label])
		trend.Likes = append(trend.Likes, likes[label])
		trend.Comments = append(trend.Comments, comments[label])
	}

	return trend, nil
}

// dailyCounts 按日期前缀聚合行数。直接截取存储的时间串前 10 位，
// 避免依赖 SQLite 对带时区时间串的 strftime 解析。
func (s *ReportService) dailyCounts(model interface{}, column string, start time.Time) (map[string]int64, error) {
	var rows []struct {
		Day   string
		Count int64
	}

	if err := s.db.Model(model).
		Select(fmt.Sprintf("substr(%s, 1, 10) AS day, COUNT(*) AS count", column)).
		Where(fmt.Sprintf("%s >= ?", column), start).
		Group("day").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Day] = row.Count
	}
	return counts, nil
}

// PageStat 热门页面统计。
type PageStat struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Count int64  `json:"count"`
}

// VisitorBreakdown 访客画像汇总。
type VisitorBreakdown struct {
	TotalVisitors   int64            `json:"total_visitors"`
	NonBotVisitors  int64            `json:"non_bot_visitors"`
	TotalPageViews  int64            `json:"total_page_views"`
	PagesPerVisitor float64          `json:"pages_per_visitor"`
	ByDevice        map[string]int64 `json:"devices"`
	ByBrowser       map[string]int64 `json:"browsers"`
	ByOS            map[string]int64 `json:"operating_systems"`
	TopPages        []PageStat       `json:"top_pages"`
}

// Breakdown 返回设备/浏览器/系统分布与热门页面。days>0 时按窗口过滤。
func (s *ReportService) Breakdown(days int, now time.Time) (VisitorBreakdown, error) {
	breakdown := VisitorBreakdown{
		ByDevice:  make(map[string]int64),
		ByBrowser: make(map[string]int64),
		ByOS:      make(map[string]int64),
		TopPages:  []PageStat{},
	}

	var cutoff time.Time
	filtered := days > 0
	if filtered {
		cutoff = now.AddDate(0, 0, -days)
	}

	visitorScope := func() *gorm.DB {
		query := s.db.Model(&db.Visitor{})
		if filtered {
			query = query.Where("first_visit >= ?", cutoff)
		}
		return query
	}

	if err := visitorScope().Count(&breakdown.TotalVisitors).Error; err != nil {
		return breakdown, fmt.Errorf("count visitors: %w", err)
	}
	if err := visitorScope().Where("is_bot = ?", false).Count(&breakdown.NonBotVisitors).Error; err != nil {
		return breakdown, fmt.Errorf("count non-bot visitors: %w", err)
	}

	pageVisits := s.db.Model(&db.PageVisit{})
	if filtered {
		pageVisits = pageVisits.Where("visited_at >= ?", cutoff)
	}
	if err := pageVisits.Count(&breakdown.TotalPageViews).Error; err != nil {
		return breakdown, fmt.Errorf("count page visits: %w", err)
	}

	if breakdown.NonBotVisitors > 0 {
		ratio := float64(breakdown.TotalPageViews) / float64(breakdown.NonBotVisitors)
		breakdown.PagesPerVisitor = math.Round(ratio*100) / 100
	}

	for column, dest := range map[string]map[string]int64{
		"device":  breakdown.ByDevice,
		"browser": breakdown.ByBrowser,
		"os":      breakdown.ByOS,
	} {
		var rows []struct {
			Name  string
			Count int64
		}
		query := s.db.Model(&db.Visitor{}).
			Select(fmt.Sprintf("%s AS name, COUNT(*) AS count", column)).
			Group(column)
		if filtered {
			query = query.Where("first_visit >= ?", cutoff)
		}
		if err := query.Scan(&rows).Error; err != nil {
			return breakdown, fmt.Errorf("group visitors by %s: %w", column, err)
		}
		for _, row := range rows {
			name := row.Name
			if name == "" {
				name = "unknown"
			}
			dest[name] += row.Count
		}
	}

	topPages := s.db.Model(&db.PageVisit{}).
		Select("page_url AS url, page_title AS title, COUNT(*) AS count").
		Group("page_url").Group("page_title").
		Order("count DESC").
		Limit(10)
	if filtered {
		topPages = topPages.Where("visited_at >= ?", cutoff)
	}
	if err := topPages.Scan(&breakdown.TopPages).Error; err != nil {
		return breakdown, fmt.Errorf("top pages: %w", err)
	}
	for i := range breakdown.TopPages {
		if breakdown.TopPages[i].Title == "" {
			breakdown.TopPages[i].Title = breakdown.TopPages[i].URL
		}
	}

	return breakdown, nil
}

// ContentStat 描述热门作品的互动数据。
type ContentStat struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	ViewsCount    uint64 `json:"views_count"`
	LikesCount    uint64 `json:"likes_count"`
	CommentsCount int64  `json:"comments_count"`
}

// TopContent 返回按浏览量排序的前 limit 个作品。days>0 时只统计窗口内创建的作品。
func (s *ReportService) TopContent(limit, days int, now time.Time) ([]ContentStat, error) {
	if limit <= 0 {
		limit = 10
	}

	query := s.db.Table("portfolio_items pi").
		Select("pi.id, pi.title, pi.views_count, pi.likes_count, COUNT(pc.id) AS comments_count").
		Joins("LEFT JOIN portfolio_comments pc ON pc.portfolio_id = pi.id").
		Group("pi.id").
		Order("pi.views_count DESC").
		Limit(limit)
	if days > 0 {
		query = query.Where("pi.created_at >= ?", now.AddDate(0, 0, -days))
	}

	var stats []ContentStat
	if err := query.Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("top content: %w", err)
	}
	if stats == nil {
		stats = []ContentStat{}
	}

	return stats, nil
}
