package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_RequiresInput(t *testing.T) {
	_, err := parseFlags([]string{"-provider", "veo"})
	assert.ErrorIs(t, err, errNoInput)
}

func TestParseFlags_Help(t *testing.T) {
	_, err := parseFlags([]string{"-h"})
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestParseFlags_ScriptArgument(t *testing.T) {
	o, err := parseFlags([]string{"-join", "story.txt"})
	require.NoError(t, err)
	assert.Equal(t, "story.txt", o.scriptPath)
	assert.True(t, o.set["script"])
	assert.True(t, o.set["join"])
	assert.False(t, o.set["chain"])
}

func TestOptionsManifest_FlagsOnly(t *testing.T) {
	o, err := parseFlags([]string{
		"-provider", "kling",
		"-duration", "5",
		"-chain=false",
		"-subject", "a.png, b.png,",
		"story.txt",
	})
	require.NoError(t, err)

	m, err := o.manifest("/srv/output")
	require.NoError(t, err)
	assert.Equal(t, "kling", m.Provider)
	assert.Equal(t, 5, m.DurationSec)
	assert.False(t, m.Chaining())
	assert.Equal(t, []string{"a.png", "b.png"}, m.SubjectRefs)
	assert.Equal(t, "/srv/output", m.OutputDir)
	assert.True(t, filepath.IsAbs(m.ScriptFile))
	assert.Equal(t, "story.txt", filepath.Base(m.ScriptFile))
}

func TestOptionsManifest_OverridesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "film.yaml")
	manifest := `provider: veo
duration_sec: 8
output_dir: out
join: true
script: |
  Scene 1 – A lighthouse at dawn
  Scene 2 – Waves crash
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	o, err := parseFlags([]string{"-manifest", path, "-provider", "runway", "-join=false"})
	require.NoError(t, err)

	m, err := o.manifest("/ignored")
	require.NoError(t, err)
	assert.Equal(t, "runway", m.Provider)
	assert.Equal(t, 8, m.DurationSec)
	assert.False(t, m.Join)
	assert.True(t, m.Chaining())
	assert.Equal(t, filepath.Join(dir, "out"), m.OutputDir)

	scenes, err := m.SceneList()
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "Waves crash", scenes[1].Prompt)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"x"}, splitList(" x ,,"))
}
