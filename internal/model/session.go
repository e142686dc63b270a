package model

import (
	"encoding/json"
	"time"
)

// Session はブラウザセッションの永続化レコードを表す。
// Data はキーごとのJSON値を保持する。
type Session struct {
	ID        string
	Data      map[string]json.RawMessage
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は now 時点で期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
