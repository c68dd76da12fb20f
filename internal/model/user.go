// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのロールを表す。
// user < moderator < admin の階層を持つ。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleModerator はモデレーター。
	RoleModerator Role = "moderator"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Level はロール階層上のレベルを返す。未知のロールは0。
func (r Role) Level() int {
	switch r {
	case RoleUser:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid は定義済みロールかどうかを返す。
func (r Role) Valid() bool {
	return r.Level() > 0
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID            string
	Email         string
	Username      string
	PasswordHash  string
	EmailVerified bool
	Role          Role
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   *time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Team はユーザーが所属するチームを表す。管理画面から操作される。
type Team struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Subscription は課金プランの契約を表す。
// 決済プロバイダーとの連携は対象外で、管理画面からの参照・編集のみを行う。
type Subscription struct {
	ID               string
	UserID           string
	Plan             string
	Status           string
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
}
