package model

import (
	"encoding/json"
	"time"
)

// AuditEntry は監査ログの1レコードを表す。
type AuditEntry struct {
	ID           string
	UserID       string // 未認証操作の場合は空
	Action       string
	ResourceType string
	ResourceID   string
	Details      json.RawMessage
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

// AuditFilter は監査ログ検索の条件。ゼロ値のフィールドは条件に含めない。
type AuditFilter struct {
	UserID       string
	Action       string
	ResourceType string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}
