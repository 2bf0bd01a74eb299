// Package prompt screens user text before it is placed into a model prompt.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
)

// InjectionType represents different types of prompt injection attacks
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeRoleManipulation    InjectionType = "role_manipulation"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeCodeExecution       InjectionType = "code_execution"
	InjectionTypeDelimiterAttack     InjectionType = "delimiter_attack"
)

// DefaultThreshold is the confidence at which Check rejects text.
const DefaultThreshold = 0.8

// Detection is one matched injection pattern
type Detection struct {
	Type       InjectionType
	Confidence float64
	StartPos   int
	EndPos     int
}

type rule struct {
	typ        InjectionType
	confidence float64
	patterns   []*regexp.Regexp
}

var rules = []rule{
	{
		typ:        InjectionTypeSystemPromptLeak,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+(previous|all|above|prior)\s+(instructions?|prompts?|commands?)`),
			regexp.MustCompile(`(?i)(show|reveal|print|repeat)\s+(me\s+)?(your|the)\s+(system|original|initial|hidden)\s+(prompt|instructions?)`),
		},
	},
	{
		typ:        InjectionTypeRoleManipulation,
		confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(you|your)\s+(are|role|identity)\s+(now|is|changed)`),
			regexp.MustCompile(`(?i)assume\s+(the\s+)?(role|identity)\s+of`),
			regexp.MustCompile(`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`),
		},
	},
	{
		typ:        InjectionTypeInstructionOverride,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(disregard|override|cancel)\s+(all|previous|above|any|system)\s+(instructions?|rules|commands?|settings?)`),
			regexp.MustCompile(`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`),
			regexp.MustCompile(`(?i)instead[,]?\s+(write|return|output|say)\b`),
		},
	},
	{
		typ:        InjectionTypeCodeExecution,
		confidence: 0.95,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(execute|run)\s+(this|the\s+following)\s+(code|script|command)`),
			regexp.MustCompile(`(?i)\b(eval|exec|system)\s*\(`),
		},
	},
	{
		typ:        InjectionTypeDelimiterAttack,
		confidence: 0.8,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\[/?(SYSTEM|USER|ASSISTANT)\]`),
			regexp.MustCompile(`<\|(system|user|assistant|end)\|>`),
			regexp.MustCompile(`(?i)###\s*(SYSTEM|USER|ASSISTANT|INSTRUCTION)`),
		},
	},
}

// InjectionError reports the strongest detection in rejected text
type InjectionError struct {
	Type       InjectionType
	Confidence float64
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("potential prompt injection detected: %s (confidence: %.2f)", e.Type, e.Confidence)
}

// Detect returns every pattern match in text, strongest first.
func Detect(text string) []Detection {
	var detections []Detection
	for _, r := range rules {
		for _, p := range r.patterns {
			for _, m := range p.FindAllStringIndex(text, -1) {
				detections = append(detections, Detection{
					Type:       r.typ,
					Confidence: r.confidence,
					StartPos:   m[0],
					EndPos:     m[1],
				})
			}
		}
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	return detections
}

// Guard rejects text whose strongest detection reaches a threshold
type Guard struct {
	threshold float64
}

// NewGuard returns a Guard. A threshold <= 0 selects DefaultThreshold.
func NewGuard(threshold float64) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{threshold: threshold}
}

// Check returns an *InjectionError when text looks like an injection attempt.
func (g *Guard) Check(text string) error {
	detections := Detect(text)
	if len(detections) == 0 || detections[0].Confidence < g.threshold {
		return nil
	}
	return &InjectionError{Type: detections[0].Type, Confidence: detections[0].Confidence}
}
