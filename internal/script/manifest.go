package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/scenechain/internal/scene"
)

// Static errors for manifest loading.
var (
	// ErrNoScenes is returned when a manifest yields no scenes.
	ErrNoScenes = errors.New("script: manifest has no scenes")
	// ErrAmbiguousScenes is returned when more than one scene source is set.
	ErrAmbiguousScenes = errors.New("script: set only one of scenes, script, script_file")
	// ErrInvalidManifest is returned when a manifest fails validation.
	ErrInvalidManifest = errors.New("script: invalid manifest")
)

var manifestValidator = validator.New()

// Manifest describes a run for the command-line tool.
//
//	provider: veo
//	model: veo-3.1-fast
//	duration_sec: 8
//	frame_chaining: true
//	subject_refs: [hero.png]
//	join: true
//	script: |
//	  Scene 1 – A lighthouse at dawn
//	  Scene 2 – Waves crash against the rocks
type Manifest struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	AspectRatio    string `yaml:"aspect_ratio"`
	NegativePrompt string `yaml:"negative_prompt"`
	GenerateAudio  *bool  `yaml:"generate_audio"`

	DurationSec   int    `yaml:"duration_sec" validate:"omitempty,min=1,max=60"`
	Resolution    string `yaml:"resolution" validate:"omitempty,oneof=720p 1080p"`
	Seed          int64  `yaml:"seed" validate:"min=0"`
	FrameChaining *bool  `yaml:"frame_chaining"`
	OutputDir     string `yaml:"output_dir"`
	Join          bool   `yaml:"join"`

	SubjectRefs    []string `yaml:"subject_refs" validate:"dive,required"`
	BackgroundRefs []string `yaml:"background_refs" validate:"dive,required"`

	// Exactly one of Scenes, Script and ScriptFile supplies the scenes.
	Scenes     []Scene `yaml:"scenes" validate:"dive"`
	Script     string  `yaml:"script"`
	ScriptFile string  `yaml:"script_file"`

	// dir is the manifest's directory; relative paths resolve against it.
	dir string
}

// LoadManifest reads and validates a YAML manifest. Relative paths in it are
// resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a YAML manifest. dir is used to resolve relative paths.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.dir = dir

	if err := manifestValidator.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	sources := 0
	for _, set := range []bool{len(m.Scenes) > 0, strings.TrimSpace(m.Script) != "", m.ScriptFile != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, ErrAmbiguousScenes
	}

	m.SubjectRefs = m.resolveAll(m.SubjectRefs)
	m.BackgroundRefs = m.resolveAll(m.BackgroundRefs)
	if m.OutputDir != "" {
		m.OutputDir = m.resolve(m.OutputDir)
	}
	return &m, nil
}

// Chaining reports whether frame chaining is on. It defaults to true.
func (m *Manifest) Chaining() bool {
	return m.FrameChaining == nil || *m.FrameChaining
}

// SceneList returns the manifest's scenes with IDs filled in.
func (m *Manifest) SceneList() ([]Scene, error) {
	var scenes []Scene
	switch {
	case len(m.Scenes) > 0:
		scenes = make([]Scene, len(m.Scenes))
		for i, s := range m.Scenes {
			if s.ID == 0 {
				s.ID = i + 1
			}
			if s.Video != "" {
				s.Video = m.resolve(s.Video)
			}
			scenes[i] = s
		}
	case strings.TrimSpace(m.Script) != "":
		scenes = Parse(m.Script)
	case m.ScriptFile != "":
		var err error
		if scenes, err = readScriptFile(m.resolve(m.ScriptFile)); err != nil {
			return nil, err
		}
	}

	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	return scenes, nil
}

// Tasks builds scene tasks from the manifest. Scenes with a video are loaded
// as already completed.
func (m *Manifest) Tasks() ([]*scene.Task, error) {
	scenes, err := m.SceneList()
	if err != nil {
		return nil, err
	}
	return Tasks(scenes)
}

// Tasks converts parsed scenes into scene tasks.
func Tasks(scenes []Scene) ([]*scene.Task, error) {
	tasks := make([]*scene.Task, 0, len(scenes))
	for _, s := range scenes {
		var (
			t   *scene.Task
			err error
		)
		if s.Video != "" {
			t, err = scene.NewCompleted(s.ID, s.Prompt, s.EnhancedPrompt, s.Video)
		} else {
			t, err = scene.New(s.ID, s.Prompt, s.EnhancedPrompt)
		}
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", s.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func readScriptFile(path string) ([]Scene, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from the manifest
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ParseCSV(f)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(buf.String()), nil
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

func (m *Manifest) resolveAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = m.resolve(p)
	}
	return out
}
