// Package resolver turns a raw generation request into concrete model parameters.
//
// Resolution is pure: it validates the aspect ratio against a fixed table, picks a
// prompt language from the script of the prompt text and appends that language's
// quality suffix. It is safe for concurrent use.
package resolver

import (
	"math"
	"strings"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

const (
	DefaultAspectRatio    = "16:9"
	DefaultSteps          = 50
	DefaultCFGScale       = 4.0
	DefaultNegativePrompt = " "
)

// Language tags selected by DetectLanguage
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// Size is an exact pixel size for an aspect ratio label
type Size struct {
	Width  int
	Height int
}

var ratioLabels = []string{"1:1", "16:9", "9:16", "4:3", "3:4", "3:2", "2:3"}

var ratioSizes = map[string]Size{
	"1:1":  {Width: 1328, Height: 1328},
	"16:9": {Width: 1664, Height: 928},
	"9:16": {Width: 928, Height: 1664},
	"4:3":  {Width: 1472, Height: 1104},
	"3:4":  {Width: 1104, Height: 1472},
	"3:2":  {Width: 1584, Height: 1056},
	"2:3":  {Width: 1056, Height: 1584},
}

var qualitySuffix = map[string]string{
	LanguageEnglish: "Ultra HD, 4K, cinematic composition.",
	LanguageChinese: "超清，4K，电影级构图",
}

// AspectRatios returns the supported labels in display order
func AspectRatios() []string {
	out := make([]string, len(ratioLabels))
	copy(out, ratioLabels)
	return out
}

// SizeFor looks up the pixel size of label
func SizeFor(label string) (Size, bool) {
	size, ok := ratioSizes[label]
	return size, ok
}

// QualitySuffix returns the prompt suffix for a language tag
func QualitySuffix(lang string) string {
	if s, ok := qualitySuffix[lang]; ok {
		return s
	}
	return qualitySuffix[LanguageEnglish]
}

// DetectLanguage returns "zh" when text holds any CJK Unified Ideograph, "en" otherwise.
// A single ideograph is enough.
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= '\u4e00' && r <= '\u9fff' {
			return LanguageChinese
		}
	}
	return LanguageEnglish
}

// Resolve validates req and expands it into generation parameters
func Resolve(req domain.Request) (domain.ResolvedParams, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ResolvedParams{}, domain.NewValidationError("prompt", "is required")
	}

	size, ok := ratioSizes[req.AspectRatio]
	if !ok {
		return domain.ResolvedParams{}, domain.NewValidationError("aspect_ratio",
			"invalid aspect ratio %q, supported ratios: %s", req.AspectRatio, strings.Join(ratioLabels, ", "))
	}

	if req.NumInferenceSteps <= 0 {
		return domain.ResolvedParams{}, domain.NewValidationError("num_inference_steps",
			"must be greater than 0, got %d", req.NumInferenceSteps)
	}

	if math.IsNaN(req.TrueCFGScale) || math.IsInf(req.TrueCFGScale, 0) {
		return domain.ResolvedParams{}, domain.NewValidationError("true_cfg_scale", "must be a finite number")
	}

	negative := req.NegativePrompt
	if negative == "" {
		negative = DefaultNegativePrompt
	}

	lang := DetectLanguage(req.Prompt)

	return domain.ResolvedParams{
		Prompt:         req.Prompt,
		FinalPrompt:    req.Prompt + " " + QualitySuffix(lang),
		NegativePrompt: negative,
		AspectRatio:    req.AspectRatio,
		Language:       lang,
		Width:          size.Width,
		Height:         size.Height,
		Steps:          req.NumInferenceSteps,
		CFGScale:       req.TrueCFGScale,
	}, nil
}
