package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain cool \xfcml\xe4uts.txt", "i_contain_cool_mluts.txt"},
		{"i contain cool ümläuts.txt", "i_contain_cool_umlauts.txt"},
		{`C:\Users\me\photo.JPG`, "C_Users_me_photo.JPG"},
		{"  .hidden.png", "hidden.png"},
		{"...", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecureFilename(tt.in))
		})
	}
}

func TestStore_SaveAndCleanup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	s, err := NewStore(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.Dir())

	f, err := s.Save("../evil name.png", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(f.Dir))
	assert.Equal(t, "evil_name.png", filepath.Base(f.Path))

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	require.NoError(t, f.Cleanup())
	assert.NoDirExists(t, f.Dir)
}

func TestStore_SaveIsolatesRequests(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := s.Save("same.png", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.Save("same.png", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestStore_Clean(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save("a.png", strings.NewReader("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "loose.tmp"), []byte("x"), 0o644))

	require.NoError(t, s.Clean())
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Sweep(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	old, err := s.Save("old.png", strings.NewReader("a"))
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Dir, past, past))

	fresh, err := s.Save("fresh.png", strings.NewReader("b"))
	require.NoError(t, err)

	n, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, old.Dir)
	assert.DirExists(t, fresh.Dir)
}

func TestNewSweeper(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewSweeper(s, "not a schedule", time.Hour, nil)
	assert.Error(t, err)

	sw, err := NewSweeper(s, "@every 1h", time.Hour, nil)
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

func TestSweeper_sweep(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	f, err := s.Save("x.png", strings.NewReader("x"))
	require.NoError(t, err)

	sw, err := NewSweeper(s, "@every 1h", 0, nil)
	require.NoError(t, err)
	sw.sweep()
	assert.NoDirExists(t, f.Dir)
}
