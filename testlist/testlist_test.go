package testlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "alpha_test.go"), `package alpha

import "testing"

func TestAlpha(t *testing.T) {}

func TestMain(m *testing.M) {}

func helperFunc() {}
`)
	writeFile(t, filepath.Join(dir, "sub", "beta_test.go"), `package sub

import "testing"

func TestBeta(t *testing.T) {}

func TestGamma(t *testing.T) {}
`)
	writeFile(t, filepath.Join(dir, "notatest.go"), `package alpha

func TestNotDiscovered() {}
`)

	d := NewDiscoverer(dir)
	tests, err := d.Discover(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"TestAlpha", "TestBeta", "TestGamma"}, tests,
		"files walk in sorted order, TestMain and non-test files are skipped")
}

func TestDiscoverExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.go"), `package a

import "testing"

func TestOne(t *testing.T) {}

func TestTwo(t *testing.T) {}
`)

	d := NewDiscoverer(dir)
	tests, err := d.Discover(map[string]struct{}{"TestOne": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"TestTwo"}, tests)
}

func TestDiscoverSkipsHiddenAndVendor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.go"), `package a

import "testing"

func TestVisible(t *testing.T) {}
`)
	writeFile(t, filepath.Join(dir, "vendor", "v_test.go"), `package v

import "testing"

func TestVendored(t *testing.T) {}
`)
	writeFile(t, filepath.Join(dir, ".hidden", "h_test.go"), `package h

import "testing"

func TestHidden(t *testing.T) {}
`)
	writeFile(t, filepath.Join(dir, "testdata", "d_test.go"), `package d

import "testing"

func TestData(t *testing.T) {}
`)

	d := NewDiscoverer(dir)
	tests, err := d.Discover(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"TestVisible"}, tests)
}

func TestDiscoverDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "z_test.go"), `package p

import "testing"

func TestZed(t *testing.T) {}
`)
	writeFile(t, filepath.Join(dir, "a_test.go"), `package p

import "testing"

func TestAce(t *testing.T) {}
`)

	d := NewDiscoverer(dir)
	first, err := d.Discover(nil)
	require.NoError(t, err)
	second, err := d.Discover(nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"TestAce", "TestZed"}, first)
}

func TestResolvePackageDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module github.com/example/project\n\ngo 1.22\n")

	t.Run("relative path", func(t *testing.T) {
		got, err := ResolvePackageDir("./internal/thing", dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "internal/thing"), got)
	})

	t.Run("module path", func(t *testing.T) {
		got, err := ResolvePackageDir("github.com/example/project/pkg/sub", dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "pkg/sub"), got)
	})

	t.Run("module root", func(t *testing.T) {
		got, err := ResolvePackageDir("github.com/example/project", dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "."), got)
	})

	t.Run("foreign module", func(t *testing.T) {
		_, err := ResolvePackageDir("github.com/other/project", dir)
		require.Error(t, err)
	})
}
