package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

// --- モック定義 ---

type mockLoader struct {
	loadFn func(r *http.Request) (*session.Session, error)
	calls  int
}

func (m *mockLoader) Load(r *http.Request) (*session.Session, error) {
	m.calls++
	if m.loadFn != nil {
		return m.loadFn(r)
	}
	return storedSession("sid", nil), nil
}

// storedSession は保存済みセッションを読み込んだ状態を返す。
func storedSession(id string, values map[string]string) *session.Session {
	s := session.Restore(&model.Session{ID: id, ExpiresAt: time.Now().Add(time.Hour)})
	for k, v := range values {
		s.Set(k, v)
	}
	return s
}

// withSession はリクエストにセッションを注入する。
func withSession(r *http.Request, s *session.Session) *http.Request {
	return r.WithContext(ContextWithSession(r.Context(), s))
}
