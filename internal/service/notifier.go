package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mileusna/useragent"
)

// Notifier 负责推送“访客在线”通知。发送是尽力而为的旁路操作，
// 失败由调用方记录日志，永远不会传导到请求链路。
type Notifier interface {
	NotifyPresence(entry PresenceEntry, isNew bool) error
}

const defaultTelegramAPIBase = "https://api.telegram.org"

// TelegramNotifier 通过 Telegram Bot API 推送访客通知。
// 未配置 token 或 chat id 时静默禁用。
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier 构造 TelegramNotifier，HTTP 超时固定 10 秒。
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: strings.TrimSpace(botToken),
		chatID:   strings.TrimSpace(chatID),
		apiBase:  defaultTelegramAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled 返回通知是否已配置。
func (n *TelegramNotifier) Enabled() bool {
	return n.botToken != "" && n.chatID != ""
}

// NotifyPresence 发送一条在线访客通知。
func (n *TelegramNotifier) NotifyPresence(entry PresenceEntry, isNew bool) error {
	if !n.Enabled() {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       formatPresenceMessage(entry, isNew, time.Now()),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api rejected message: %s", result.Description)
	}

	return nil
}

// formatPresenceMessage 渲染通知正文，包含浏览器/设备推断与来源分类。
func formatPresenceMessage(entry PresenceEntry, isNew bool, now time.Time) string {
	var b strings.Builder

	if isNew {
		b.WriteString("<b>👀 新访客上线</b>\n\n")
	} else {
		b.WriteString("<b>👀 访客活跃中</b>\n\n")
	}

	ua := useragent.Parse(entry.UserAgent)
	browser := ua.Name
	if browser == "" {
		browser = "未知"
	}
	device := deviceClass(ua)
	if ua.OS != "" {
		device = fmt.Sprintf("%s (%s)", device, ua.OS)
	}

	fmt.Fprintf(&b, "<b>访客:</b> %s\n", entry.Key)
	fmt.Fprintf(&b, "<b>IP:</b> %s\n", entry.IPAddress)
	fmt.Fprintf(&b, "<b>浏览器:</b> %s\n", browser)
	fmt.Fprintf(&b, "<b>设备:</b> %s\n", device)
	fmt.Fprintf(&b, "<b>时间:</b> %s\n", now.Format("2006-01-02 15:04:05"))

	page := entry.Page
	if page == "" {
		page = "/"
	}
	title := entry.PageTitle
	if title == "" {
		title = page
	}
	fmt.Fprintf(&b, "<b>当前页面:</b> %s (%s)", page, title)

	if source := classifyReferrer(entry.Referrer); source != "" {
		fmt.Fprintf(&b, "\n<b>来源:</b> %s", source)
	}

	if len(entry.Trail) > 0 {
		b.WriteString("\n\n<b>最近浏览:</b>\n")
		parts := make([]string, 0, len(entry.Trail))
		for _, t := range entry.Trail {
			parts = append(parts, fmt.Sprintf("%s (%s)", t.Page, t.Title))
		}
		joined := strings.Join(parts, ", ")
		if len(joined) > 200 {
			joined = joined[:200]
		}
		b.WriteString(joined)
	}

	return b.String()
}

// classifyReferrer 把常见的社交/搜索来源归类，其余原样截断返回。
func classifyReferrer(referrer string) string {
	ref := strings.TrimSpace(referrer)
	if ref == "" {
		return ""
	}

	switch {
	case strings.Contains(ref, "google.com"):
		return "Google 搜索"
	case strings.Contains(ref, "facebook.com"):
		return "Facebook"
	case strings.Contains(ref, "twitter.com"), strings.Contains(ref, "x.com"):
		return "Twitter"
	case strings.Contains(ref, "instagram.com"):
		return "Instagram"
	case strings.Contains(ref, "linkedin.com"):
		return "LinkedIn"
	}

	if len(ref) > 50 {
		ref = ref[:50]
	}
	return ref
}
