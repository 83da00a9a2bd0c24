// Package script turns scene scripts and run manifests into scene tasks.
package script

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// headerPattern matches scene headers such as "Scene 1 – Title", "Scene 2 - ...",
// "Canh 3: ..." or "scene 4. ...".
var headerPattern = regexp.MustCompile(`(?i)^(?:scene|canh)\s+\d+\s*[–\-:.]`)

// ErrNoPromptColumn is returned when a CSV script has no "prompt" column.
var ErrNoPromptColumn = errors.New("script: CSV has no prompt column")

// Scene is one parsed scene. IDs are assigned 1..N in script order.
type Scene struct {
	ID             int    `yaml:"id"`
	Prompt         string `yaml:"prompt"`
	EnhancedPrompt string `yaml:"enhanced_prompt,omitempty"`
	// Video is the path of a video finished in an earlier run. A scene with a
	// video is loaded as completed and skipped.
	Video string `yaml:"video,omitempty"`
}

// Parse splits script text into scenes.
//
// If any line is a scene header, each header starts a new scene and the
// following lines are joined onto it; the header prefix itself is dropped.
// Otherwise every non-empty line that does not start with '#' is a scene.
func Parse(text string) []Scene {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	hasHeaders := false
	for _, l := range lines {
		if headerPattern.MatchString(l) {
			hasHeaders = true
			break
		}
	}

	var prompts []string
	if hasHeaders {
		prompts = parseHeaders(lines)
	} else {
		for _, l := range lines {
			if !strings.HasPrefix(l, "#") {
				prompts = append(prompts, l)
			}
		}
	}
	return number(prompts)
}

func parseHeaders(lines []string) []string {
	var (
		prompts []string
		current []string
		inScene bool
	)
	flush := func() {
		if len(current) > 0 {
			prompts = append(prompts, strings.Join(current, " "))
		}
		current = nil
	}

	for _, l := range lines {
		if loc := headerPattern.FindStringIndex(l); loc != nil {
			flush()
			inScene = true
			if rest := strings.TrimSpace(l[loc[1]:]); rest != "" {
				current = append(current, rest)
			}
			continue
		}
		// Lines before the first header belong to no scene.
		if inScene {
			current = append(current, l)
		}
	}
	flush()
	return prompts
}

// ParseCSV reads scenes from a CSV file with a header row containing a
// "prompt" column. Rows with an empty prompt are skipped.
func ParseCSV(r io.Reader) ([]Scene, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), "prompt") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoPromptColumn
	}

	var prompts []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		if col < len(rec) {
			if p := strings.TrimSpace(rec[col]); p != "" {
				prompts = append(prompts, p)
			}
		}
	}
	return number(prompts), nil
}

// splitLines returns the trimmed non-empty lines of text. Lines have no
// length limit.
func splitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func number(prompts []string) []Scene {
	if len(prompts) == 0 {
		return nil
	}
	scenes := make([]Scene, len(prompts))
	for i, p := range prompts {
		scenes[i] = Scene{ID: i + 1, Prompt: p}
	}
	return scenes
}
