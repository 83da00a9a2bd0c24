package provider

// Options selects and tunes an adapter for one run. Fields a backend does not
// understand are ignored by it.
type Options struct {
	// Name is the provider name: kling, minimax, runway or veo.
	Name string
	// Model overrides the configured default model when set.
	Model string
	// AspectRatio such as "16:9"; empty keeps the backend default.
	AspectRatio string
	// NegativePrompt is sent by backends that accept one.
	NegativePrompt string
	// GenerateAudio toggles audio on backends that produce it; nil keeps the default.
	GenerateAudio *bool
	// SubjectRefs and BackgroundRefs are local image paths sent as reference
	// images by backends that take them alongside the prompt.
	SubjectRefs    []string
	BackgroundRefs []string
}

// Factory builds an Adapter from Options. Unknown names and missing API keys
// are reported here, before any run starts.
type Factory func(opts Options) (Adapter, error)
