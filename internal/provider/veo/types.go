// Package veo provides the Google Veo adapter, driven through the Gemini
// API's Go SDK.
package veo

import "google.golang.org/genai"

// Model aliases accepted in configuration, mapped to Gemini model IDs.
var models = map[string]string{
	"veo-3.1-quality": "veo-3.1-quality-generate-001",
	"veo-3.1-fast":    "veo-3.1-fast-generate-preview",
	"veo-3.1":         "veo-3.1-generate-preview",
	"veo-3.0":         "veo-3.0-generate-001",
	"veo-3.0-fast":    "veo-3.0-fast-generate-001",
	"veo-2.0":         "veo-2.0-generate-001",
}

// DefaultModel is the alias used when none or an unknown one is configured.
const DefaultModel = "veo-3.0"

// Reference image limits. Only Veo 3.1 models accept reference images.
const (
	maxSubjectRefs = 2
	maxTotalRefs   = 3
)

// Subjects are sent as asset references, backgrounds as style references.
const (
	referenceSubject    = genai.VideoGenerationReferenceTypeAsset
	referenceBackground = genai.VideoGenerationReferenceTypeStyle
)

const personGenerationAllowAll = "allow_all"
