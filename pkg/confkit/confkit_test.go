package confkit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpcore/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("PERPCORE_TEST_DIR", "conf")
	tests := []struct {
		name string
		base string
		file string
		want string
	}{
		{"absolute", "/srv/etc", "/opt/strategies.yaml", "/opt/strategies.yaml"},
		{"relative", "/srv/etc", "strategies.yaml", "/srv/etc/strategies.yaml"},
		{"env var", "/srv/etc", "${PERPCORE_TEST_DIR}/llm.yaml", "/srv/etc/conf/llm.yaml"},
		{"empty", "/srv/etc", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, confkit.ResolvePath(tt.base, tt.file))
		})
	}
}

func TestSectionHydrate(t *testing.T) {
	t.Run("empty optional", func(t *testing.T) {
		var s confkit.Section[string]
		require.NoError(t, s.Hydrate("/base", func(string) (*string, error) {
			t.Fatal("loader must not run")
			return nil, nil
		}))
		assert.False(t, s.Loaded())
	})

	t.Run("empty required", func(t *testing.T) {
		s := confkit.Section[string]{Required: true}
		err := s.Hydrate("/base", func(string) (*string, error) { return nil, nil })
		assert.ErrorIs(t, err, confkit.ErrMissingSection)
	})

	t.Run("loaded", func(t *testing.T) {
		s := confkit.Section[string]{File: "llm.yaml"}
		v := "ok"
		require.NoError(t, s.Hydrate("/base", func(p string) (*string, error) {
			assert.Equal(t, "/base/llm.yaml", p)
			return &v, nil
		}))
		assert.True(t, s.Loaded())
		assert.Equal(t, "/base/llm.yaml", s.File)
		assert.Equal(t, "ok", *s.Value)
	})
}

func TestDuration(t *testing.T) {
	d, err := confkit.Duration("interval", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = confkit.Duration("interval", " 4h ", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	_, err = confkit.Duration("interval", "soon", 0)
	assert.ErrorContains(t, err, "interval")

	_, err = confkit.Duration("interval", "-1m", 0)
	assert.Error(t, err)
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, confkit.FindRoot(nested))
}

func TestLoadFile(t *testing.T) {
	type sample struct {
		Name  string
		Limit int `json:",default=3"`
	}
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Name: ${PERPCORE_TEST_NAME}\n"), 0o644))
	t.Setenv("PERPCORE_TEST_NAME", "desk")

	got, err := confkit.LoadFile[sample](path, true)
	require.NoError(t, err)
	assert.Equal(t, "desk", got.Name)
	assert.Equal(t, 3, got.Limit)
}
