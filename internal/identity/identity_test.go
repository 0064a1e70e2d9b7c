package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
)

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	touched int
	getErr  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*domain.User)}
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.users[id], nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UserID] = u
	return nil
}

func (f *fakeUsers) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	if u, ok := f.users[id]; ok {
		u.LastSeenAt = at
	}
	return nil
}

func TestMiddlewareIssuesIdentity(t *testing.T) {
	users := newFakeUsers()
	var gotUser, gotTab string
	h := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotTab = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(TabHeaderName, "tab-7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("user id %q is not a valid anonymous id", gotUser)
	}
	if gotTab != "tab-7" {
		t.Errorf("tab id = %q, want tab-7", gotTab)
	}
	if users.users[gotUser] == nil {
		t.Error("user was not created")
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("cookie not set: %+v", cookies)
	}

	// A returning device keeps its id.
	req2 := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req2.AddCookie(cookies[0])
	var again string
	h2 := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		again = UserIDFromContext(r.Context())
	}))
	h2.ServeHTTP(httptest.NewRecorder(), req2)
	if again != gotUser {
		t.Errorf("returning user id = %q, want %q", again, gotUser)
	}
}

func TestMiddlewareRejectsForgedCookie(t *testing.T) {
	users := newFakeUsers()
	var got string
	h := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == "anon_../../etc" || !isValidAnonID(got) {
		t.Errorf("forged cookie accepted: %q", got)
	}
}

func TestMiddlewareStoreFailure(t *testing.T) {
	users := newFakeUsers()
	users.getErr = errors.New("database is locked")
	called := false
	h := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Error("next handler called despite store failure")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestEnsureUserRefreshesLastSeen(t *testing.T) {
	users := newFakeUsers()
	users.users["anon_x"] = &domain.User{UserID: "anon_x", LastSeenAt: time.Now().Add(-time.Hour)}

	if err := ensureUser(context.Background(), users, "anon_x"); err != nil {
		t.Fatalf("ensureUser() error = %v", err)
	}
	if err := ensureUser(context.Background(), users, "anon_x"); err != nil {
		t.Fatalf("ensureUser() error = %v", err)
	}
	if users.touched != 1 {
		t.Errorf("UpdateLastSeen calls = %d, want 1", users.touched)
	}
}

func TestSanitizeTabID(t *testing.T) {
	tests := map[string]string{
		"":          DefaultTabIDValue,
		"  tab-1  ": "tab-1",
		"bad id!":   DefaultTabIDValue,
		"a.b:c_d-1": "a.b:c_d-1",
	}
	for in, want := range tests {
		if got := sanitizeTabID(in); got != want {
			t.Errorf("sanitizeTabID(%q) = %q, want %q", in, got, want)
		}
	}
}
