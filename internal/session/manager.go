package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
)

// CookieName はセッションIDを保持するCookie名。
const CookieName = "qbo_session"

// Store はセッションの保存先。repository.SessionRepository が満たす。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	DeleteByID(ctx context.Context, id string) error
}

// Options はManagerの設定。
type Options struct {
	MaxAge       time.Duration
	CookieSecure bool
	CookieDomain string
}

// Manager はCookieとStoreを結び付けてセッションを読み書きする。
type Manager struct {
	store  Store
	opts   Options
	random io.Reader
	now    func() time.Time
	logger *slog.Logger
}

// NewManager はManagerを生成する。MaxAge が0以下の場合は1時間。
func NewManager(store Store, opts Options, logger *slog.Logger) *Manager {
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		opts:   opts,
		random: rand.Reader,
		now:    time.Now,
		logger: logger,
	}
}

// Load はリクエストのCookieからセッションを読み込む。
// Cookieが無い、または保存先に存在しない場合は新しいセッションを返す。
func (m *Manager) Load(r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		stored, err := m.store.FindByID(r.Context(), cookie.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if stored != nil {
			return Restore(stored), nil
		}
	}
	return m.newSession()
}

// Save はセッションを保存し、Cookieを発行する。
// Invalidate 済みの場合は旧IDを削除して新しいIDで保存する。
// 変更の無い新規セッションは保存しない。
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.isNew && !s.dirty {
		return nil
	}

	if s.invalidated {
		if !s.isNew {
			if err := m.store.DeleteByID(ctx, s.ID); err != nil {
				return fmt.Errorf("failed to delete invalidated session: %w", err)
			}
		}
		id, err := m.newID()
		if err != nil {
			return err
		}
		m.logger.Debug("session id rotated")
		s.ID = id
		s.CreatedAt = m.now()
		s.invalidated = false
	}

	s.ExpiresAt = m.now().Add(m.opts.MaxAge)
	record := &model.Session{
		ID:        s.ID,
		Data:      s.Values(),
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
	if err := m.store.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.isNew = false
	s.dirty = false
	http.SetCookie(w, m.cookie(s.ID, int(m.opts.MaxAge.Seconds())))
	return nil
}

// Destroy はセッションを削除し、Cookieを失効させる。
// 破棄後に値を追加して保存した場合は新しいIDが割り当てられる。
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.isNew {
		if err := m.store.DeleteByID(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	s.values = make(map[string]json.RawMessage)
	s.isNew = true
	s.dirty = false
	s.invalidated = true
	http.SetCookie(w, m.cookie("", -1))
	return nil
}

func (m *Manager) newSession() (*Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return New(id, now, now.Add(m.opts.MaxAge)), nil
}

// newID は32バイトの乱数を16進文字列にしたセッションIDを返す。
func (m *Manager) newID() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.opts.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
