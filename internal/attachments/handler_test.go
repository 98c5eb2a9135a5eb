package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/crud"
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

const (
	editor = int64(1)
	reader = int64(2)
)

func newTestRouter(t *testing.T) (http.Handler, *Manager, *memStore) {
	t.Helper()
	registry := crud.NewRegistry()
	registry.MustRegister(crud.Builtins()...)
	registry.MustRegister(crud.EntityConfig{
		Type:             "posts",
		PermissionPrefix: "posts",
		Fields: []crud.Field{
			{Name: "title", Type: "text", Rule: "required"},
			{Name: "cover", Type: "file"},
		},
		Attachable: []string{"cover"},
	})
	registry.Seal()

	m, _, store := newTestManager(t)
	grants := grantTable{
		editor: {Direct: []string{"attachments.create", "attachments.view", "attachments.update", "posts.view", "posts.update"}},
		reader: {Direct: []string{"attachments.view", "attachments.update", "posts.view"}},
	}
	h := NewHandler(nil, m, registry, rbac.Middleware{Resolver: rbac.NewResolver(grants, nil)})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, m, store
}

func do(t *testing.T, h http.Handler, req *http.Request, user int64) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: user}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, content []byte, declared string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="upload.png"`)
	hdr.Set("Content-Type", declared)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlerUploadForOwnerAndList(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, multipartUpload(t, pngBytes, "image/png", map[string]string{"owner_type": "posts", "owner_id": "7"}), editor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Attachment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "cover", created.Collection)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/owners/posts/7/attachments", nil), reader)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Attachment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/attachments/"+strconv.FormatInt(created.ID, 10)+"/content", nil), reader)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, pngBytes, rec.Body.Bytes())
}

func TestHandlerRejectsForgedUpload(t *testing.T) {
	h, _, store := newTestRouter(t)
	rec := do(t, h, multipartUpload(t, []byte("plain text, not a picture"), "image/png", nil), editor)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Zero(t, store.count())
}

func TestHandlerOwnerPermissions(t *testing.T) {
	h, m, _ := newTestRouter(t)
	a := uploadPNG(t, m)
	path := "/attachments/" + strconv.FormatInt(a.ID, 10) + "/owners"

	body := `{"owner_type":"posts","owner_id":3}`
	rec := do(t, h, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)), reader)
	require.Equal(t, http.StatusForbidden, rec.Code, "reader lacks posts.update")

	rec = do(t, h, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)), editor)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"owner_type":"roles","owner_id":3}`)), editor)
	require.Equal(t, http.StatusBadRequest, rec.Code, "roles declare no attachable fields")

	rec = do(t, h, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"owner_type":"widgets","owner_id":3}`)), editor)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, path+"/posts/3", nil), editor)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed":true}`, rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/attachments/"+strconv.FormatInt(a.ID, 10), nil), editor)
	require.Equal(t, http.StatusNotFound, rec.Code, "last owner detached")
}

func TestHandlerDetachAll(t *testing.T) {
	h, m, _ := newTestRouter(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := m.UploadFor(ctx, Owner{Type: "posts", ID: 9}, UploadInput{Reader: bytes.NewReader(pngBytes), Collection: "cover"})
		require.NoError(t, err)
	}
	rec := do(t, h, httptest.NewRequest(http.MethodDelete, "/owners/posts/9/attachments", nil), reader)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodDelete, "/owners/posts/9/attachments", nil), editor)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed":2}`, rec.Body.String())
}

func TestHandlerRequiresActor(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attachments/1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
