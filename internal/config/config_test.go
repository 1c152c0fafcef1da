package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadParams(t *testing.T) {
	path := writeFile(t, `
# field widths
FIELD_SIZE_USERNAME=16

FILE_COUNT_CREDENTIAL = 4
`)

	params, err := config.LoadParams(path)
	require.NoError(t, err)
	require.Equal(t, config.Params{
		"FIELD_SIZE_USERNAME":   16,
		"FILE_COUNT_CREDENTIAL": 4,
	}, params)

	t.Run("required getter", func(t *testing.T) {
		v, err := params.Int("FIELD_SIZE_USERNAME")
		require.NoError(t, err)
		require.Equal(t, 16, v)

		_, err = params.Int("FIELD_SIZE_PASSWORD")
		require.Error(t, err)
	})
}

func TestLoadParamsRejects(t *testing.T) {
	t.Run("non-numeric value", func(t *testing.T) {
		_, err := config.LoadParams(writeFile(t, "FIELD_SIZE_USERNAME=wide"))
		require.Error(t, err)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := config.LoadParams(writeFile(t, "FIELD_SIZE_USERNAME 16"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadParams(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})
}

func TestLoadTopology(t *testing.T) {
	path := writeFile(t, `
# first line is the initial primary
12001:13001
12002:13002
`)

	members, err := config.LoadTopology(path)
	require.NoError(t, err)
	require.Equal(t, []config.Member{
		{UserPort: 12001, InternalPort: 13001},
		{UserPort: 12002, InternalPort: 13002},
	}, members)
}

func TestLoadTopologyRejects(t *testing.T) {
	t.Run("no members", func(t *testing.T) {
		_, err := config.LoadTopology(writeFile(t, "# comments only\n"))
		require.Error(t, err)
	})

	t.Run("malformed line", func(t *testing.T) {
		_, err := config.LoadTopology(writeFile(t, "12001-13001"))
		require.Error(t, err)
	})

	t.Run("non-numeric port", func(t *testing.T) {
		_, err := config.LoadTopology(writeFile(t, "12001:alpha"))
		require.Error(t, err)
	})
}
