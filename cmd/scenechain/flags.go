package main

import (
	"errors"
	"flag"
	"path/filepath"
	"strings"

	"github.com/maauso/scenechain/internal/script"
)

// errNoInput is returned when neither a manifest nor a script is given.
var errNoInput = errors.New("a -manifest or a script file is required")

type options struct {
	manifestPath string
	scriptPath   string

	provider    string
	model       string
	aspectRatio string
	outputDir   string
	duration    int
	resolution  string
	seed        int64
	chain       bool
	subjects    string
	backgrounds string
	join        bool

	estimateOnly bool

	// set records which flags appeared on the command line.
	set map[string]bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("scenechain", flag.ContinueOnError)

	fs.StringVar(&o.manifestPath, "manifest", "", "YAML run manifest")
	fs.StringVar(&o.scriptPath, "script", "", "scene script (.txt or .csv); may also be the first argument")
	fs.StringVar(&o.provider, "provider", "", "provider: kling, minimax, runway or veo")
	fs.StringVar(&o.model, "model", "", "provider model override")
	fs.StringVar(&o.aspectRatio, "aspect-ratio", "", "aspect ratio such as 16:9")
	fs.StringVar(&o.outputDir, "output", "", "output directory (default OUTPUT_DIR)")
	fs.IntVar(&o.duration, "duration", 0, "clip duration in seconds")
	fs.StringVar(&o.resolution, "resolution", "", "720p or 1080p")
	fs.Int64Var(&o.seed, "seed", 0, "generation seed")
	fs.BoolVar(&o.chain, "chain", true, "use the last frame of each scene as the next reference image")
	fs.StringVar(&o.subjects, "subject", "", "comma-separated subject reference images")
	fs.StringVar(&o.backgrounds, "background", "", "comma-separated background reference images")
	fs.BoolVar(&o.join, "join", false, "join completed scenes into one film")
	fs.BoolVar(&o.estimateOnly, "estimate", false, "print the cost estimate and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if o.scriptPath == "" && fs.NArg() > 0 {
		o.scriptPath = fs.Arg(0)
		o.set["script"] = true
	}
	if o.manifestPath == "" && o.scriptPath == "" {
		return o, errNoInput
	}
	return o, nil
}

// manifest loads the manifest, if any, and applies the flags given on the
// command line over it. defaultOutput is used when neither sets a directory.
func (o options) manifest(defaultOutput string) (*script.Manifest, error) {
	m := &script.Manifest{}
	if o.manifestPath != "" {
		var err error
		if m, err = script.LoadManifest(o.manifestPath); err != nil {
			return nil, err
		}
	}

	if o.set["script"] {
		// Flag paths are relative to the working directory, not the manifest.
		abs, err := filepath.Abs(o.scriptPath)
		if err != nil {
			return nil, err
		}
		m.Scenes, m.Script, m.ScriptFile = nil, "", abs
	}
	if o.set["provider"] {
		m.Provider = o.provider
	}
	if o.set["model"] {
		m.Model = o.model
	}
	if o.set["aspect-ratio"] {
		m.AspectRatio = o.aspectRatio
	}
	if o.set["output"] {
		m.OutputDir = o.outputDir
	}
	if o.set["duration"] {
		m.DurationSec = o.duration
	}
	if o.set["resolution"] {
		m.Resolution = o.resolution
	}
	if o.set["seed"] {
		m.Seed = o.seed
	}
	if o.set["chain"] {
		chain := o.chain
		m.FrameChaining = &chain
	}
	if o.set["subject"] {
		m.SubjectRefs = splitList(o.subjects)
	}
	if o.set["background"] {
		m.BackgroundRefs = splitList(o.backgrounds)
	}
	if o.set["join"] {
		m.Join = o.join
	}

	if m.OutputDir == "" {
		m.OutputDir = defaultOutput
	}
	return m, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
