package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-regress/registry"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

func newExecutor(t *testing.T, manifest string) *GoTestExecutor {
	t.Helper()

	cfg := registry.Config{Log: log.New()}
	if manifest != "" {
		path := filepath.Join(t.TempDir(), "requirements.yaml")
		require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))
		cfg.ManifestFile = path
	}
	reg, err := registry.NewRegistry(cfg)
	require.NoError(t, err)

	executor, err := NewGoTestExecutor(ExecutorConfig{
		WorkDir:  t.TempDir(),
		Registry: reg,
		Log:      log.New(),
	})
	require.NoError(t, err)
	return executor
}

func TestNewGoTestExecutorValidation(t *testing.T) {
	reg, err := registry.NewRegistry(registry.Config{Log: log.New()})
	require.NoError(t, err)

	_, err = NewGoTestExecutor(ExecutorConfig{Registry: reg})
	require.Error(t, err, "work directory is required")

	_, err = NewGoTestExecutor(ExecutorConfig{WorkDir: t.TempDir()})
	require.Error(t, err, "registry is required")
}

func TestExecuteCancelledContext(t *testing.T) {
	executor := newExecutor(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := executor.Execute(ctx, "TestFoo", &types.RunConfig{})
	require.NotNil(t, outcome)
	assert.Equal(t, types.StateInterrupted, outcome.State)
	assert.Equal(t, "TestFoo", outcome.Name)
}

func TestExecuteResourceDenied(t *testing.T) {
	manifest := `
tests:
  - name: TestNetworkHeavy
    resources:
      - network
`
	executor := newExecutor(t, manifest)

	t.Run("resource not enabled", func(t *testing.T) {
		outcome := executor.Execute(context.Background(), "TestNetworkHeavy", &types.RunConfig{})
		assert.Equal(t, types.StateResourceDenied, outcome.State)
		assert.ErrorContains(t, outcome.Err, "network")
	})

	t.Run("denial is not a failure", func(t *testing.T) {
		outcome := executor.Execute(context.Background(), "TestNetworkHeavy", &types.RunConfig{})
		assert.False(t, outcome.IsFailed(true))
	})
}

func TestBuildTestArgs(t *testing.T) {
	executor := newExecutor(t, "")

	t.Run("basic", func(t *testing.T) {
		args := executor.buildTestArgs("TestFoo", &types.RunConfig{}, 0, "./...")
		assert.Equal(t, []string{"test", "./...", "-count", "1", "-json", "-run", "^TestFoo$"}, args)
	})

	t.Run("scoped target", func(t *testing.T) {
		args := executor.buildTestArgs("TestFoo", &types.RunConfig{}, 0, "./internal/feature")
		assert.Equal(t, "./internal/feature", args[1])
	})

	t.Run("match filters narrow sub-cases", func(t *testing.T) {
		cfg := &types.RunConfig{MatchFilters: []string{"case_one", "case_two"}}
		args := executor.buildTestArgs("TestFoo", cfg, 0, "./...")
		assert.Contains(t, args, "^TestFoo$/^(case_one|case_two)$")
	})

	t.Run("per-test filters win", func(t *testing.T) {
		cfg := &types.RunConfig{
			MatchFilters:        []string{"global"},
			MatchFiltersPerTest: map[string][]string{"TestFoo": {"sub"}},
		}
		args := executor.buildTestArgs("TestFoo", cfg, 0, "./...")
		assert.Contains(t, args, "^TestFoo$/^(sub)$")
	})

	t.Run("ignore filters", func(t *testing.T) {
		cfg := &types.RunConfig{IgnoreFilters: []string{"flaky"}}
		args := executor.buildTestArgs("TestFoo", cfg, 0, "./...")
		require.Contains(t, args, "-skip")
		assert.Contains(t, args, "^(flaky)$")
	})

	t.Run("timeout and verbose", func(t *testing.T) {
		cfg := &types.RunConfig{Verbose: true}
		args := executor.buildTestArgs("TestFoo", cfg, 5*time.Minute, "./...")
		assert.Contains(t, args, "-timeout")
		assert.Contains(t, args, "5m0s")
		assert.Contains(t, args, "-v")
	})
}

func TestResolveTarget(t *testing.T) {
	executor := newExecutor(t, "")
	goMod := "module example.com/proj\n\ngo 1.22\n"
	require.NoError(t, os.WriteFile(filepath.Join(executor.workDir, "go.mod"), []byte(goMod), 0644))

	t.Run("unscoped sweeps the module", func(t *testing.T) {
		target, err := executor.resolveTarget(registry.Requirement{Name: "TestFoo"})
		require.NoError(t, err)
		assert.Equal(t, "./...", target)
	})

	t.Run("import path inside the module", func(t *testing.T) {
		target, err := executor.resolveTarget(registry.Requirement{
			Name:    "TestFoo",
			Package: "example.com/proj/internal/feature",
		})
		require.NoError(t, err)
		assert.Equal(t, "./internal/feature", target)
	})

	t.Run("relative package", func(t *testing.T) {
		target, err := executor.resolveTarget(registry.Requirement{
			Name:    "TestFoo",
			Package: "./internal/feature",
		})
		require.NoError(t, err)
		assert.Equal(t, "./internal/feature", target)
	})

	t.Run("package outside the module", func(t *testing.T) {
		_, err := executor.resolveTarget(registry.Requirement{
			Name:    "TestFoo",
			Package: "example.com/other/feature",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in module")
	})
}

func TestExecutePackageResolutionFailure(t *testing.T) {
	manifest := `
tests:
  - name: TestScoped
    package: example.com/other/sub
`
	// The work dir holds no go.mod, so the import path cannot be resolved.
	executor := newExecutor(t, manifest)

	outcome := executor.Execute(context.Background(), "TestScoped", &types.RunConfig{})
	assert.Equal(t, types.StateUncaughtException, outcome.State)
	assert.ErrorContains(t, outcome.Err, "go.mod")
	assert.True(t, outcome.IsFailed(false))
}

func TestCleanupScratch(t *testing.T) {
	executor := newExecutor(t, "")

	dir := executor.newScratchDir()
	require.NotEmpty(t, dir)
	require.DirExists(t, dir)

	require.NoError(t, executor.CleanupScratch())
	assert.NoDirExists(t, dir)

	// Idempotent with nothing accumulated.
	require.NoError(t, executor.CleanupScratch())
}

func TestLeftoverFiles(t *testing.T) {
	executor := newExecutor(t, "")

	before, err := executor.snapshotWorkDir()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(executor.workDir, "stray.txt"), []byte("x"), 0644))

	leftover := executor.leftoverFiles(before)
	assert.Equal(t, []string{"stray.txt"}, leftover)
}
