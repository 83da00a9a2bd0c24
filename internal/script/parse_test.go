package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prompts(scenes []Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = s.Prompt
	}
	return out
}

func TestParse_HeaderMode(t *testing.T) {
	text := `Scene 1 – The lighthouse
A lone lighthouse at dawn,
fog rolling in.

Scene 2 - Storm
Waves crash against the rocks.
Canh 3: Calm
scene 4. Gulls take off`

	scenes := Parse(text)

	require.Len(t, scenes, 4)
	assert.Equal(t, []string{
		"The lighthouse A lone lighthouse at dawn, fog rolling in.",
		"Storm Waves crash against the rocks.",
		"Calm",
		"Gulls take off",
	}, prompts(scenes))
	for i, s := range scenes {
		assert.Equal(t, i+1, s.ID)
	}
}

func TestParse_HeaderModeKeepsSeparatorsInsideText(t *testing.T) {
	scenes := Parse("Scene 1: a close-up - then a pan: slow")

	require.Len(t, scenes, 1)
	assert.Equal(t, "a close-up - then a pan: slow", scenes[0].Prompt)
}

func TestParse_HeaderModeDropsPreamble(t *testing.T) {
	scenes := Parse("Film notes for the crew\nScene 1 – Opening\nScene 2 – Ending")

	assert.Equal(t, []string{"Opening", "Ending"}, prompts(scenes))
}

func TestParse_HeaderWithoutTitle(t *testing.T) {
	scenes := Parse("Scene 1 –\nA body line\nScene 2 –\n")

	// A header with nothing after it contributes no scene of its own.
	assert.Equal(t, []string{"A body line"}, prompts(scenes))
}

func TestParse_LineMode(t *testing.T) {
	text := "# my film\nA lighthouse at dawn\n\n   Waves crash   \n# note\nGulls take off\n"

	scenes := Parse(text)

	assert.Equal(t, []string{"A lighthouse at dawn", "Waves crash", "Gulls take off"}, prompts(scenes))
	assert.Equal(t, 3, scenes[2].ID)
}

func TestParse_LongLineKeepsFollowingScenes(t *testing.T) {
	long := strings.Repeat("a slow pan across the harbor ", 80*1024)
	text := "Opening shot\r\n" + long + "\r\nClosing shot\r\n"

	scenes := Parse(text)

	require.Len(t, scenes, 3)
	assert.Equal(t, "Opening shot", scenes[0].Prompt)
	assert.Equal(t, strings.TrimSpace(long), scenes[1].Prompt)
	assert.Equal(t, "Closing shot", scenes[2].Prompt)
}

func TestParse_NotAHeader(t *testing.T) {
	// "Scenery" and a header without a number are ordinary lines.
	scenes := Parse("Scenery at dusk\nScene – no number")

	assert.Equal(t, []string{"Scenery at dusk", "Scene – no number"}, prompts(scenes))
}

func TestParse_Empty(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("  \n\n "))
	assert.Empty(t, Parse("# only a comment"))
}

func TestParseCSV(t *testing.T) {
	csv := "id,prompt,notes\n1,A lighthouse at dawn,first\n2,,skip me\n3,\"Waves, crashing\",x\n"

	scenes, err := ParseCSV(strings.NewReader(csv))

	require.NoError(t, err)
	assert.Equal(t, []string{"A lighthouse at dawn", "Waves, crashing"}, prompts(scenes))
	assert.Equal(t, 2, scenes[1].ID)
}

func TestParseCSV_HeaderVariants(t *testing.T) {
	scenes, err := ParseCSV(strings.NewReader("\ufeffPrompt\nfirst\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, prompts(scenes))
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("id,text\n1,hello\n"))
	assert.ErrorIs(t, err, ErrNoPromptColumn)

	scenes, err := ParseCSV(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, scenes)
}
