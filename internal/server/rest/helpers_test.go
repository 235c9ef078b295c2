package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/videotube/internal/server/config"
	"github.com/dmitrijs2005/videotube/internal/server/media"
	"github.com/dmitrijs2005/videotube/internal/server/repositories/users"
	"github.com/dmitrijs2005/videotube/internal/server/services"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeMedia struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeMedia) Upload(_ context.Context, localPath string, kind media.Kind) (*media.Asset, error) {
	return &media.Asset{URL: "https://cdn.test/" + string(kind) + "/" + filepath.Base(localPath)}, nil
}

func (f *fakeMedia) Remove(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, url)
	return nil
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

type testServer struct {
	srv     *Server
	handler http.Handler
	repo    *users.MemoryRepository
	media   *fakeMedia
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		AccessTokenSecret:            "access-secret",
		RefreshTokenSecret:           "refresh-secret",
		AccessTokenValidityDuration:  15 * time.Minute,
		RefreshTokenValidityDuration: time.Hour,
		BcryptCost:                   bcrypt.MinCost,
	}

	repo := users.NewMemoryRepository()
	fm := &fakeMedia{}
	svc := services.NewUserService(repo, fm, cfg, nil)

	srv := NewServer(Options{
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
		CORSOrigin:     "https://app.test",
		Transport: SessionTransport{
			Secure:     true,
			AccessTTL:  cfg.AccessTokenValidityDuration,
			RefreshTTL: cfg.RefreshTokenValidityDuration,
		},
	}, svc, nil)

	return &testServer{srv: srv, handler: srv.Routes(), repo: repo, media: fm}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

func (ts *testServer) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

// multipartRequest builds a multipart request. files maps a form field to
// the uploaded file name.
func multipartRequest(t *testing.T, method, path string, fields, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nfake image"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func aliceFields() map[string]string {
	return map[string]string{
		"fullName": "Alice A",
		"username": "alice",
		"email":    "alice@x.com",
		"password": "secret123",
	}
}

// registerAndLogin creates alice and returns her token pair.
func (ts *testServer) registerAndLogin(t *testing.T) services.TokenPair {
	t.Helper()

	rec := ts.do(multipartRequest(t, http.MethodPost, "/api/v1/users/register", aliceFields(), map[string]string{"avatar": "me.png"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.postJSON(t, "/api/v1/users/login", map[string]string{"username": "alice", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair services.TokenPair
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &pair))
	return pair
}
