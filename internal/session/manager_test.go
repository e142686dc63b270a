package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
)

// --- モック定義 ---

type mockStore struct {
	sessions map[string]*model.Session

	findFn func(id string) (*model.Session, error)

	saved   []string
	deleted []string
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*model.Session)}
}

func (m *mockStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	if m.findFn != nil {
		return m.findFn(id)
	}
	return m.sessions[id], nil
}

func (m *mockStore) Save(_ context.Context, s *model.Session) error {
	m.saved = append(m.saved, s.ID)
	m.sessions[s.ID] = s
	return nil
}

func (m *mockStore) DeleteByID(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.sessions, id)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestManager(store Store) *Manager {
	m := NewManager(store, Options{MaxAge: 30 * time.Minute, CookieSecure: true}, nil)
	m.now = func() time.Time { return fixedNow }
	return m
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

func TestManager_Load_NoCookie_NewSession(t *testing.T) {
	m := newTestManager(newMockStore())
	m.random = bytes.NewReader(bytes.Repeat([]byte{0xab}, 32))

	s, err := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.IsNew() {
		t.Error("Cookie無しのセッションは新規であるべき")
	}
	if s.ID != strings.Repeat("ab", 32) {
		t.Errorf("ID = %q, want 64 hex chars", s.ID)
	}
	if !s.ExpiresAt.Equal(fixedNow.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}

func TestManager_Load_ExistingSession(t *testing.T) {
	store := newMockStore()
	store.sessions["known"] = &model.Session{ID: "known", ExpiresAt: fixedNow.Add(time.Minute)}
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "known"})

	s, err := m.Load(req)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.IsNew() || s.ID != "known" {
		t.Errorf("Load() = %+v, want existing session", s)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Errorf("nil Data から読み込んだセッションに Set できない: %v", err)
	}
}

func TestManager_Load_UnknownCookie_NewSession(t *testing.T) {
	m := newTestManager(newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "stale"})

	s, err := m.Load(req)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.IsNew() || s.ID == "stale" {
		t.Errorf("未知のIDは新しいセッションで置き換えるべき: %+v", s)
	}
}

func TestManager_Load_StoreError(t *testing.T) {
	store := newMockStore()
	store.findFn = func(string) (*model.Session, error) { return nil, errors.New("db down") }
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "x"})

	if _, err := m.Load(req); err == nil {
		t.Error("保存先エラーは返すべき")
	}
}

func TestManager_Save_PersistsAndSetsCookie(t *testing.T) {
	store := newMockStore()
	m := newTestManager(store)
	s, _ := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	s.Set("realmId", "9130")

	rec := httptest.NewRecorder()
	if err := m.Save(context.Background(), rec, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stored := store.sessions[s.ID]
	if stored == nil || string(stored.Data["realmId"]) != `"9130"` {
		t.Fatalf("stored = %+v", stored)
	}
	c := sessionCookie(t, rec)
	if c == nil {
		t.Fatal("Cookie が発行されていない")
	}
	if c.Value != s.ID || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.MaxAge != 1800 {
		t.Errorf("cookie = %+v", c)
	}
	if s.IsNew() || s.Dirty() {
		t.Error("保存後は新規・変更ありの状態を解除するべき")
	}
}

// 変更の無い新規セッションは保存しない
func TestManager_Save_SkipsUntouchedNewSession(t *testing.T) {
	store := newMockStore()
	m := newTestManager(store)
	s, _ := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	if err := m.Save(context.Background(), rec, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(store.saved) != 0 || sessionCookie(t, rec) != nil {
		t.Error("変更の無い新規セッションが保存された")
	}
}

func TestManager_Save_InvalidatedRotatesID(t *testing.T) {
	store := newMockStore()
	store.sessions["old"] = &model.Session{ID: "old", ExpiresAt: fixedNow.Add(time.Minute)}
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "old"})
	s, _ := m.Load(req)
	s.Invalidate()
	s.AddFlash(FlashInfo, "Logged out")

	if err := m.Save(context.Background(), httptest.NewRecorder(), s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s.ID == "old" {
		t.Error("Invalidate 後の保存でIDが変わっていない")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "old" {
		t.Errorf("deleted = %v, want [old]", store.deleted)
	}
	if _, ok := store.sessions[s.ID]; !ok {
		t.Error("新しいIDで保存されていない")
	}
}

func TestManager_Destroy(t *testing.T) {
	store := newMockStore()
	store.sessions["gone"] = &model.Session{ID: "gone", ExpiresAt: fixedNow.Add(time.Minute)}
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "gone"})
	s, _ := m.Load(req)
	s.Set("accessToken", "Bearer x")

	rec := httptest.NewRecorder()
	if err := m.Destroy(context.Background(), rec, s); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, ok := store.sessions["gone"]; ok {
		t.Error("保存先からセッションが削除されていない")
	}
	if s.Has("accessToken") {
		t.Error("Destroy 後も値が残っている")
	}
	if c := sessionCookie(t, rec); c == nil || c.MaxAge >= 0 {
		t.Errorf("失効Cookieが発行されていない: %+v", c)
	}
}

func TestManager_Destroy_ThenSave_UsesNewID(t *testing.T) {
	store := newMockStore()
	store.sessions["gone"] = &model.Session{ID: "gone", ExpiresAt: fixedNow.Add(time.Minute)}
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "gone"})
	s, _ := m.Load(req)

	if err := m.Destroy(context.Background(), httptest.NewRecorder(), s); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	// 値を追加しなければ保存しない
	if err := m.Save(context.Background(), httptest.NewRecorder(), s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(store.sessions) != 0 {
		t.Fatalf("変更の無い破棄済みセッションが保存された: %v", store.sessions)
	}

	s.AddFlash(FlashSuccess, "bye")
	if err := m.Save(context.Background(), httptest.NewRecorder(), s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s.ID == "gone" {
		t.Error("破棄したIDが再利用された")
	}
	if _, ok := store.sessions[s.ID]; !ok {
		t.Error("新しいIDで保存されていない")
	}
}

func TestManager_NewID_RandomFailure(t *testing.T) {
	m := newTestManager(newMockStore())
	m.random = bytes.NewReader(nil)

	if _, err := m.Load(httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Error("乱数取得失敗はエラーを返すべき")
	}
}
