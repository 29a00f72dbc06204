package selection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDiscoverer serves a fixed universe, honoring the exclude set.
type fakeDiscoverer struct {
	universe []string
	err      error
}

func (d *fakeDiscoverer) Discover(exclude map[string]struct{}) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for _, name := range d.universe {
		if _, ok := exclude[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func testLogger() log.Logger {
	return log.New()
}

func TestResolveDefaultsToUniverse(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}

	sel, err := Resolve(Options{}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestA", "TestB", "TestC"}, sel.Tests)
	assert.False(t, sel.Randomized)
	assert.Nil(t, sel.Pointer)
}

func TestResolveArgs(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}

	sel, err := Resolve(Options{Args: []string{"TestC", "TestA", "TestC"}}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestC", "TestA"}, sel.Tests, "duplicates collapse to first occurrence")
}

func TestResolveExclude(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}

	sel, err := Resolve(Options{Args: []string{"TestB"}, Exclude: true}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestA", "TestC"}, sel.Tests)
}

func TestResolveFromFile(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}

	path := filepath.Join(t.TempDir(), "tests.txt")
	content := `TestC
# a full comment line
TestA  # trailing comment
0:01:23 [1/3] TestB
TestA
not a test line
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	sel, err := Resolve(Options{FromFile: path, Args: []string{"TestZ"}}, d, testLogger())
	require.NoError(t, err)
	// The fromfile is exclusive: positional args are ignored, names are
	// extracted from free-form lines and deduplicated.
	assert.Equal(t, []string{"TestC", "TestA", "TestB"}, sel.Tests)
}

func TestResolveFromFileMissing(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA"}}

	_, err := Resolve(Options{FromFile: "does-not-exist.txt"}, d, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read fromfile")
}

func TestResolveStartCursor(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC", "TestD"}}

	sel, err := Resolve(Options{Start: "TestC"}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestC", "TestD"}, sel.Tests)
}

func TestResolveStartNotFound(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB"}}

	_, err := Resolve(Options{Start: "TestZ"}, d, testLogger())
	require.ErrorIs(t, err, ErrStartNotFound)
}

func TestResolveShuffleReproducible(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC", "TestD", "TestE"}}
	seed := int64(12345)

	first, err := Resolve(Options{Randomize: true, RandomSeed: &seed}, d, testLogger())
	require.NoError(t, err)
	second, err := Resolve(Options{Randomize: true, RandomSeed: &seed}, d, testLogger())
	require.NoError(t, err)

	assert.True(t, first.Randomized)
	assert.Equal(t, seed, first.Seed)
	assert.Equal(t, first.Tests, second.Tests, "same seed must reproduce the same order")
	assert.ElementsMatch(t, []string{"TestA", "TestB", "TestC", "TestD", "TestE"}, first.Tests)
}

func TestResolveShuffleDrawsSeed(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}

	sel, err := Resolve(Options{Randomize: true}, d, testLogger())
	require.NoError(t, err)
	assert.True(t, sel.Randomized)
	assert.GreaterOrEqual(t, sel.Seed, int64(0))

	// The drawn seed must replay to the same order.
	replay, err := Resolve(Options{Randomize: true, RandomSeed: &sel.Seed}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, sel.Tests, replay.Tests)
}

func TestResolveSingleStep(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}
	pointerPath := filepath.Join(t.TempDir(), "pointer")

	// First invocation: no pointer file yet, starts at the beginning.
	sel, err := Resolve(Options{SingleStep: true, PointerPath: pointerPath}, d, testLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"TestA"}, sel.Tests)
	require.NotNil(t, sel.Pointer)
	assert.Equal(t, "TestB", sel.Pointer.Next())

	require.NoError(t, sel.Pointer.Finalize())

	// Second invocation resumes from the recorded pointer.
	sel, err = Resolve(Options{SingleStep: true, PointerPath: pointerPath}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestB"}, sel.Tests)
	assert.Equal(t, "TestC", sel.Pointer.Next())
}

func TestResolveSingleStepExhausted(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB"}}
	pointerPath := filepath.Join(t.TempDir(), "pointer")
	require.NoError(t, os.WriteFile(pointerPath, []byte("TestB\n"), 0644))

	sel, err := Resolve(Options{SingleStep: true, PointerPath: pointerPath}, d, testLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"TestB"}, sel.Tests)
	assert.Equal(t, "", sel.Pointer.Next(), "last test has no successor")

	require.NoError(t, sel.Pointer.Finalize())
	_, statErr := os.Stat(pointerPath)
	assert.True(t, os.IsNotExist(statErr), "exhausted pointer file must be removed")
}

func TestResolveSingleStepWithArgs(t *testing.T) {
	d := &fakeDiscoverer{universe: []string{"TestA", "TestB", "TestC"}}
	pointerPath := filepath.Join(t.TempDir(), "pointer")

	sel, err := Resolve(Options{
		SingleStep:  true,
		PointerPath: pointerPath,
		Args:        []string{"TestB", "TestC"},
	}, d, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"TestB"}, sel.Tests, "single-step trims the selection to one test")
}

func TestResolveDiscoveryError(t *testing.T) {
	d := &fakeDiscoverer{err: os.ErrPermission}

	_, err := Resolve(Options{}, d, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test discovery failed")
}
