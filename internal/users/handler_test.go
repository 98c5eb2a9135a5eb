package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

type grantTable map[int64]rbac.Grants

func (g grantTable) PrincipalGrants(_ context.Context, id int64) (rbac.Grants, error) {
	grants, ok := g[id]
	if !ok {
		return rbac.Grants{}, rbac.ErrNotFound
	}
	return grants, nil
}

// sessionStack mimics the application middleware: the session is loaded
// per request and the actor derived from it.
func sessionStack(sm *shared.SessionManager, sess *shared.Session, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.ContextWithSession(r.Context(), sess)
		if actor, ok := sess.Actor(); ok {
			ctx = shared.ContextWithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
		_ = sm.Commit(r.Context(), httptest.NewRecorder(), sess)
	})
}

func TestHandlerLoginImpersonateStop(t *testing.T) {
	svc, _ := fixture(t)
	sm, sess := newSession(t, 0)
	grants := grantTable{
		adminID: {Direct: []string{shared.PermUsersImpersonate, "users.view"}},
		staffID: {},
	}
	router := chi.NewRouter()
	NewHandler(nil, svc, sm, rbac.Middleware{Resolver: rbac.NewResolver(grants, nil)}).MountRoutes(router)
	h := sessionStack(sm, sess, router)

	serve := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	rec := serve(http.MethodGet, "/users", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(http.MethodPost, "/session", `{"email":"admin@example.com","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	oldID := sess.ID
	rec = serve(http.MethodPost, "/session", `{"email":"admin@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, adminID, sess.User())
	require.NotEqual(t, oldID, sess.ID, "session id renewed on sign in")

	rec = serve(http.MethodGet, "/users?per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Users, 2)
	require.True(t, page.Pagination.HasNext)

	rec = serve(http.MethodPost, "/users/2/impersonate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, staffID, sess.User())

	rec = serve(http.MethodGet, "/users", "")
	require.Equal(t, http.StatusForbidden, rec.Code, "permissions follow the impersonated user")

	rec = serve(http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"impersonator_id":1`)

	rec = serve(http.MethodDelete, "/impersonation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, adminID, sess.User())

	rec = serve(http.MethodDelete, "/impersonation", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(http.MethodPost, "/users/3/impersonate", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
