package filex

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureSubdDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureSubdDir(filepath.Join("public", "temp"))
	require.NoError(t, err)

	want := filepath.Join(tmp, "public", "temp")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureSubdDir_AbsolutePath(t *testing.T) {
	want := filepath.Join(t.TempDir(), "uploads")

	got, err := EnsureSubdDir(want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureSubdDir_Idempotent(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	first, err := EnsureSubdDir("temp")
	require.NoError(t, err)

	second, err := EnsureSubdDir("temp")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEnsureSubdDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("temp", []byte("x"), 0o660))

	_, err := EnsureSubdDir("temp")
	require.Error(t, err, "should fail when a file exists with the same name")
}

// multipartHeader builds a parsed *multipart.FileHeader the same way
// net/http does for an incoming request.
func multipartHeader(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))

	fhs := req.MultipartForm.File[field]
	require.Len(t, fhs, 1)
	return fhs[0]
}

func TestStageUpload_CopiesContentAndKeepsExtension(t *testing.T) {
	dir := t.TempDir()
	fh := multipartHeader(t, "avatar", "Me.PNG", []byte("fake png bytes"))

	path, err := StageUpload(dir, fh)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".png"))
	assert.NotContains(t, filepath.Base(path), "Me")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake png bytes"), got)
}

func TestStageUpload_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	fh := multipartHeader(t, "avatar", "a.jpg", []byte("x"))

	p1, err := StageUpload(dir, fh)
	require.NoError(t, err)
	p2, err := StageUpload(dir, fh)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestStageUpload_MissingDir(t *testing.T) {
	fh := multipartHeader(t, "avatar", "a.jpg", []byte("x"))

	_, err := StageUpload(filepath.Join(t.TempDir(), "nope"), fh)
	require.Error(t, err)
}

func TestRemoveQuietly(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o660))

	RemoveQuietly(a, "", filepath.Join(dir, "missing"))

	_, err := os.Stat(a)
	assert.True(t, os.IsNotExist(err))
}
