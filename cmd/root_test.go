package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuanQin2000/datax/internal/config"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datax.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeRoot(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "datax version "+Version+"\n", out)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	out, err := executeRoot(t)
	require.NoError(t, err)
	assert.Contains(t, out, "datax is an event driven HTTP/1.1 client.")
	assert.Contains(t, out, "fetch")
}

func TestRootCmd_MissingExplicitConfig(t *testing.T) {
	_, err := executeRoot(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "fetch", "http://127.0.0.1:1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "fetch:\n  concurrency: 0\n")
	_, err := executeRoot(t, "--config", path, "fetch", "http://127.0.0.1:1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be a positive integer")
}

func TestInitializeConfig(t *testing.T) {
	t.Run("file and environment", func(t *testing.T) {
		path := writeConfig(t, "http:\n  user_agent: from-file\nfetch:\n  concurrency: 3\n")
		t.Setenv("DATAX_FETCH_CONCURRENCY", "9")

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(v, path))
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "from-file", cfg.HTTP().UserAgent)
		assert.Equal(t, 9, cfg.Fetch().Concurrency, "environment overrides the file")
		assert.Equal(t, path, v.ConfigFileUsed())
	})

	t.Run("default file is optional", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())
		v := viper.New()
		require.NoError(t, initializeConfig(v, ""))
		assert.Empty(t, v.ConfigFileUsed())
	})

	t.Run("default file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "datax.yaml"), []byte("fetch:\n  output: json\n"), 0o600))
		t.Chdir(dir)

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(v, ""))
		assert.Equal(t, "json", v.GetString("fetch.output"))
	})
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got.(*config.Config))
}

func TestRootCmd_StoresConfigForSubcommands(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: error\nhttp:\n  user_agent: agent/9\n")
	root := NewRootCommand()
	var seen config.Interface
	root.AddCommand(&cobra.Command{
		Use: "inspect",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			seen, err = getConfigFromContext(cmd.Context())
			return err
		},
	})
	root.SetArgs([]string{"--config", path, "inspect"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.NotNil(t, seen)
	assert.Equal(t, "agent/9", seen.HTTP().UserAgent)
}

func TestVersionCmd(t *testing.T) {
	oldCommit, oldDate := Commit, BuildDate
	Commit, BuildDate = "abc1234", "2026-01-02T03:04:05Z"
	t.Cleanup(func() { Commit, BuildDate = oldCommit, oldDate })

	// An unreadable config must not matter to the version command.
	out, err := executeRoot(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "datax "+Version+"\n")
	assert.Contains(t, out, "commit: abc1234\n")
	assert.Contains(t, out, "built:  2026-01-02T03:04:05Z\n")
	assert.Contains(t, out, "go:     go")
}
