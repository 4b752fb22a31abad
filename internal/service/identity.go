package service

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/foliolog/internal/db"
	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"gorm.io/gorm"
)

// Signals 汇总一次请求中可用的弱身份信号，任意一项都可能缺失。
type Signals struct {
	UserID      *uint
	SessionID   string
	Fingerprint string
	IPAddress   string
	UserAgent   string
	Referrer    string
}

// Identity 是按优先级解析后的访客身份：user > visitor > session > fingerprint > ip。
// SyntheticSession 为 true 时表示会话标识由服务端补发，调用方应回写到会话/Cookie。
type Identity struct {
	UserID           *uint
	VisitorID        *uint
	SessionID        string
	Fingerprint      string
	IPAddress        string
	UserAgent        string
	Referrer         string
	SyntheticSession bool
}

// Key 返回身份的去重键，取优先级最高的非空信号。
func (id Identity) Key() string {
	switch {
	case id.UserID != nil:
		return fmt.Sprintf("user:%d", *id.UserID)
	case id.VisitorID != nil:
		return fmt.Sprintf("visitor:%d", *id.VisitorID)
	case id.SessionID != "":
		return "session:" + id.SessionID
	case id.Fingerprint != "":
		return "fp:" + id.Fingerprint
	case id.IPAddress != "":
		return "ip:" + id.IPAddress
	}
	return "anon"
}

// IdentityResolver 将请求信号解析为稳定的访客身份，并维护 Visitor 聚合记录。
type IdentityResolver struct {
	db *gorm.DB
}

// NewIdentityResolver 构造 IdentityResolver。
func NewIdentityResolver(gdb *gorm.DB) *IdentityResolver {
	return &IdentityResolver{db: gdb}
}

// Resolve 解析访客身份。无论信号多么残缺都会返回可用的身份：
// 缺少会话时补发一个合成会话标识。返回 error 仅表示 Visitor 持久化失败，
// 此时身份依旧可用，只是不带 VisitorID。
func (r *IdentityResolver) Resolve(sig Signals, now time.Time) (Identity, error) {
	id := Identity{
		UserID:      sig.UserID,
		SessionID:   strings.TrimSpace(sig.SessionID),
		Fingerprint: strings.TrimSpace(sig.Fingerprint),
		IPAddress:   strings.TrimSpace(sig.IPAddress),
		UserAgent:   sig.UserAgent,
		Referrer:    sig.Referrer,
	}

	if id.Fingerprint == "" && id.IPAddress != "" && id.UserAgent != "" {
		id.Fingerprint = browserFingerprint(id.IPAddress, id.UserAgent)
	}

	incomingSession := id.SessionID
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
		id.SyntheticSession = true
	}

	ua := useragent.Parse(sig.UserAgent)

	// 先按会话精确匹配，再按 IP 匹配；内网/保留地址视为匿名，永不参与 IP 归并
	var visitor db.Visitor
	found := false
	if incomingSession != "" {
		err := r.db.Where("session_id = ?", incomingSession).First(&visitor).Error
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return id, fmt.Errorf("lookup visitor by session: %w", err)
		}
	}
	if !found && id.IPAddress != "" && !AnonymousIP(id.IPAddress) {
		err := r.db.Where("ip_address = ?", id.IPAddress).First(&visitor).Error
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return id, fmt.Errorf("lookup visitor by ip: %w", err)
		}
	}

	if !found {
		visitor = db.Visitor{
			IPAddress:  id.IPAddress,
			UserAgent:  sig.UserAgent,
			Referrer:   sig.Referrer,
			Browser:    ua.Name,
			OS:         ua.OS,
			Device:     deviceClass(ua),
			IsBot:      ua.Bot,
			SessionID:  id.SessionID,
			UserID:     sig.UserID,
			FirstVisit: now,
			LastVisit:  now,
			VisitCount: 1,
		}
		if err := r.db.Create(&visitor).Error; err != nil {
			return id, fmt.Errorf("create visitor: %w", err)
		}
	} else {
		visitor.LastVisit = now
		visitor.VisitCount++
		visitor.UserAgent = sig.UserAgent
		visitor.Browser = ua.Name
		visitor.OS = ua.OS
		visitor.Device = deviceClass(ua)
		visitor.IsBot = ua.Bot
		if sig.Referrer != "" {
			visitor.Referrer = sig.Referrer
		}
		// 回填空缺的会话标识与用户关联，已有值不覆盖
		if visitor.SessionID == "" {
			visitor.SessionID = id.SessionID
		}
		if sig.UserID != nil && visitor.UserID == nil {
			visitor.UserID = sig.UserID
		}
		if err := r.db.Save(&visitor).Error; err != nil {
			return id, fmt.Errorf("update visitor: %w", err)
		}
	}

	id.VisitorID = &visitor.ID
	return id, nil
}

// AnonymousIP 判断 IP 是否属于内网/保留地址段，这类地址不能代表真实访客。
// 解析失败时按匿名处理。
func AnonymousIP(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return true
	}
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

// browserFingerprint 以 IP 与 User-Agent 前 100 字符生成弱指纹。
// 取 md5 只为得到定长键，不承担安全职责。
func browserFingerprint(ip, ua string) string {
	if len(ua) > 100 {
		ua = ua[:100]
	}
	sum := md5.Sum([]byte(ip + "|" + ua))
	return hex.EncodeToString(sum[:])
}

func deviceClass(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	}
	return "unknown"
}

// engagementRef 抽取互动记录上参与身份匹配的列。
type engagementRef struct {
	userID      *uint
	visitorID   *uint
	sessionID   *string
	fingerprint *string
	ipAddress   *string
}

// matchRank 返回 ref 与身份命中的最高优先级（0 最高），未命中返回 -1。
func matchRank(ref engagementRef, id Identity) int {
	if id.UserID != nil && ref.userID != nil && *ref.userID == *id.UserID {
		return 0
	}
	if id.VisitorID != nil && ref.visitorID != nil && *ref.visitorID == *id.VisitorID {
		return 1
	}
	if id.SessionID != "" && ref.sessionID != nil && *ref.sessionID == id.SessionID {
		return 2
	}
	if id.Fingerprint != "" && ref.fingerprint != nil && *ref.fingerprint == id.Fingerprint {
		return 3
	}
	if id.IPAddress != "" && ref.ipAddress != nil && *ref.ipAddress == id.IPAddress {
		return 4
	}
	return -1
}

// bestMatchIndex 在候选集中选出优先级最高的匹配行，未命中返回 -1。
// 与存储无关，便于独立测试。
func bestMatchIndex(refs []engagementRef, id Identity) int {
	best := -1
	bestRank := 5
	for i, ref := range refs {
		if rank := matchRank(ref, id); rank >= 0 && rank < bestRank {
			best = i
			bestRank = rank
		}
	}
	return best
}
