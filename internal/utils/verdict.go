package utils

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// PhishingSystemPrompt is sent as the system role where the backend has one
const PhishingSystemPrompt = "You are a phishing detection system. Respond only with JSON."

const phishingPromptFormat = `You are a phishing detection system. Analyze the following email and determine if it is a phishing attempt.
Respond with a JSON object containing:
- is_phishing: boolean (true if phishing, false if not)
- score: number between 0 and 1 (higher means more likely to be phishing)
- explanation: string (brief explanation of your assessment)

Email:
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// Verdict is the structured answer requested from an LLM
type Verdict struct {
	IsPhishing  bool    `json:"is_phishing"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// Phishing combines the flag and the score against threshold
func (v *Verdict) Phishing(threshold float64) bool {
	return v.IsPhishing || (threshold > 0 && v.Score >= threshold)
}

// BuildPhishingPrompt truncates and sanitizes the body before formatting the prompt
func (tp *TextProcessor) BuildPhishingPrompt(subject, body string, maxBodySize int) string {
	return fmt.Sprintf(phishingPromptFormat,
		tp.SanitizeUTF8(subject),
		tp.ProcessText(body, maxBodySize))
}

// ParseVerdict decodes an LLM reply, tolerating prose or code fences around the JSON object
func ParseVerdict(text string) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err == nil {
		return &v, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("failed to extract JSON from LLM response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &v, nil
}
