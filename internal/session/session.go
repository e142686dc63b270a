// Package session はセッションスコープのキー・バリュー保存を提供する。
// 値はJSONとして保持し、保存先（PostgreSQL、Redis、メモリ）には依存しない。
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
)

// flashKey はフラッシュメッセージを保持するキー。
const flashKey = "_flash"

// FlashKind はフラッシュメッセージの種別。
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashInfo    FlashKind = "info"
)

// Flash は次のページ表示で一度だけ表示するメッセージ。
type Flash struct {
	Kind    FlashKind `json:"kind"`
	Message string    `json:"message"`
}

// Session は1つのブラウザセッションの状態。
// 変更は Manager.Save を呼ぶまで保存先に反映されない。
type Session struct {
	ID        string
	ExpiresAt time.Time
	CreatedAt time.Time

	values      map[string]json.RawMessage
	isNew       bool
	dirty       bool
	invalidated bool
}

// New は空のセッションを生成する。
func New(id string, createdAt, expiresAt time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		values:    make(map[string]json.RawMessage),
		isNew:     true,
	}
}

// Restore は保存先から読み込んだレコードをセッションに復元する。
func Restore(record *model.Session) *Session {
	values := record.Data
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	return &Session{
		ID:        record.ID,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		values:    values,
	}
}

// IsNew は保存先にまだ存在しないセッションかを返す。
func (s *Session) IsNew() bool { return s.isNew }

// Dirty は未保存の変更があるかを返す。
func (s *Session) Dirty() bool { return s.dirty }

// Has はキーが存在するかを返す。
func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Get はキーの値を dst にデコードする。キーが無い場合は false を返す。
func (s *Session) Get(key string, dst any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode session value %q: %w", key, err)
	}
	return true, nil
}

// GetString は文字列値を返す。キーが無いか文字列でない場合は空文字。
func (s *Session) GetString(key string) string {
	v, _ := GetValue[string](s, key)
	return v
}

// Set はキーに値を保存する。
func (s *Session) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode session value %q: %w", key, err)
	}
	s.values[key] = raw
	s.dirty = true
	return nil
}

// Remove はキーを削除する。
func (s *Session) Remove(keys ...string) {
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			s.dirty = true
		}
	}
}

// Invalidate は全ての値を破棄し、次の保存時に新しいIDを割り当てる。
func (s *Session) Invalidate() {
	s.values = make(map[string]json.RawMessage)
	s.invalidated = true
	s.dirty = true
}

// AddFlash はフラッシュメッセージを追加する。
func (s *Session) AddFlash(kind FlashKind, message string) {
	flashes, _ := GetValue[[]Flash](s, flashKey)
	_ = s.Set(flashKey, append(flashes, Flash{Kind: kind, Message: message}))
}

// PopFlashes はフラッシュメッセージを取り出して削除する。
func (s *Session) PopFlashes() []Flash {
	flashes, _ := GetValue[[]Flash](s, flashKey)
	s.Remove(flashKey)
	return flashes
}

// Values は保存用に値のコピーを返す。
func (s *Session) Values() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// GetValue はキーの値を T として返す。キーが無いかデコードできない場合はゼロ値と false。
func GetValue[T any](s *Session, key string) (T, bool) {
	var v T
	ok, err := s.Get(key, &v)
	if !ok || err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
