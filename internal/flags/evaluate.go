// Package flags は機能フラグの評価と管理を提供する。
package flags

import (
	"hash/fnv"

	"github.com/hitoshi/shipkit/internal/model"
)

// Bucket はフラグ名とユーザーIDから0〜99のバケットを決定する。
// フラグ名を混ぜることで、フラグごとに独立した振り分けになる。
func Bucket(flagName, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(flagName + ":" + userID))
	return int(h.Sum32() % 100)
}

// Evaluate はユーザーに対してフラグが有効かを判定する。
// userがnilの場合は匿名ユーザーとして扱い、段階的ロールアウトの対象外とする。
func Evaluate(flag *model.FeatureFlag, user *model.User) bool {
	if flag == nil || !flag.Enabled {
		return false
	}

	var userID, role string
	if user != nil {
		userID = user.ID
		role = string(user.Role)
	}

	if userID != "" && contains(flag.AllowedUsers, userID) {
		return true
	}
	if role != "" && contains(flag.AllowedRoles, role) {
		return true
	}

	switch {
	case flag.RolloutPercentage >= 100:
		return true
	case flag.RolloutPercentage <= 0:
		return false
	case userID == "":
		return false
	}

	return Bucket(flag.Name, userID) < flag.RolloutPercentage
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
