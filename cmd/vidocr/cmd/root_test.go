package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/config"
	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/models"
	"github.com/MeKo-Tech/vidocr/internal/store"
)

// resetFlags restores every flag to its default, since cobra keeps parsed
// values between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""
	globalConfig = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// workspace writes a default config file whose database and storage live in
// a temporary directory.
type workspace struct {
	dir    string
	config string
	db     string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:    dir,
		config: filepath.Join(dir, "vidocr.yaml"),
		db:     filepath.Join(dir, "vidocr.db"),
	}
	require.NoError(t, config.WriteDefaultConfigFile(ws.config, false))
	return ws
}

// args prefixes the flags that point the command at the workspace.
func (ws workspace) args(args ...string) []string {
	return append([]string{"--config", ws.config, "--db", ws.db, "--storage", filepath.Join(ws.dir, "outputs")}, args...)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "vidocr", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "run", "stage", "resume", "lineage", "models", "migrate", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "six stages")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vidocr dev")

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "vidocr dev")
}

func TestInitConfigAppliesPathOverrides(t *testing.T) {
	ws := newWorkspace(t)
	t.Cleanup(func() { cfgFile, globalConfig = "", nil })

	flags := pflag.NewFlagSet("vidocr", pflag.ContinueOnError)
	flags.String("db", "", "")
	flags.String("storage", "", "")
	storage := filepath.Join(ws.dir, "artifacts")
	require.NoError(t, flags.Parse([]string{"--db", ws.db, "--storage", storage}))

	cfgFile = ws.config
	require.NoError(t, initConfig(flags))
	assert.Equal(t, ws.db, globalConfig.Database.Path)
	assert.Equal(t, storage, globalConfig.Storage.Root)

	out, err := execute(t, ws.args("config", "show")...)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(ws.dir, "outputs"), "the root command applies --storage before subcommands run")
}

func TestInvalidConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestConfigInitAndShow(t *testing.T) {
	ws := newWorkspace(t)
	path := filepath.Join(ws.dir, "conf", "custom.yaml")

	out, err := execute(t, ws.args("config", "init", path)...)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, ws.args("config", "init", path)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, ws.args("config", "init", path, "--force")...)
	require.NoError(t, err)

	out, err = execute(t, ws.args("config", "show")...)
	require.NoError(t, err)
	assert.Contains(t, out, "database:")
	assert.Contains(t, out, ws.db)
	assert.Contains(t, out, "policy: each")
}

func TestMigrateCommands(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, ws.args("migrate", "version")...)
	require.NoError(t, err)
	assert.Equal(t, "schema version 0 (dirty: false)\n", out)

	out, err = execute(t, ws.args("migrate", "up")...)
	require.NoError(t, err)
	assert.Equal(t, "schema version 2 (dirty: false)\n", out)

	out, err = execute(t, ws.args("migrate", "down")...)
	require.NoError(t, err)
	assert.Equal(t, "schema version 1 (dirty: false)\n", out)
}

func TestLineageCommand(t *testing.T) {
	ws := newWorkspace(t)
	db, err := store.Open(ws.db)
	require.NoError(t, err)
	id, err := db.InsertVideo(context.Background(), lineage.Video{SourcePath: "/videos/clip.mp4", OriginalName: "clip.mp4"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(t, ws.args("lineage", "1", "--format", "yaml", "--verify")...)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Contains(t, out, "source_path: /videos/clip.mp4")
	assert.Contains(t, out, "recognized_texts:")

	out, err = execute(t, ws.args("lineage", "1")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"original_name": "clip.mp4"`)

	_, err = execute(t, ws.args("lineage", "99")...)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestArgumentValidation(t *testing.T) {
	ws := newWorkspace(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown stage", []string{"stage", "bogus", "1"}, "unknown stage"},
		{"stage id not a number", []string{"stage", "detect", "abc"}, "invalid id"},
		{"stage format", []string{"stage", "detect", "1", "--format", "xml"}, "invalid format"},
		{"lineage id", []string{"lineage", "0"}, "invalid video id"},
		{"lineage format", []string{"lineage", "1", "--format", "csv"}, "invalid format"},
		{"run format", []string{"run", ws.dir, "--format", "xml"}, "invalid format"},
		{"run without inputs", []string{"run"}, "requires at least 1 arg"},
		{"resume id", []string{"resume", "0"}, "invalid video id"},
		{"resume format", []string{"resume", "1", "--format", "csv"}, "invalid format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, ws.args(tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestModelsCommand(t *testing.T) {
	ws := newWorkspace(t)
	dir := filepath.Join(ws.dir, "models")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, models.TypeDetection), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, models.TypeDetection, models.ObjectDetector), []byte("onnx"), 0o600))

	out, err := execute(t, ws.args("--models-dir", dir, "models")...)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1+len(models.ListAvailableModels()))
	assert.Contains(t, lines[1], "object-detector")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[1], filepath.Join(dir, models.TypeDetection, models.ObjectDetector))
	assert.Contains(t, lines[3], "missing")

	_, err = execute(t, ws.args("--models-dir", dir, "models", "--strict")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 model files missing")
}

func TestStageWithoutModels(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, ws.args("--models-dir", filepath.Join(ws.dir, "no-models"), "stage", "detect", "1")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize pipeline")
}
