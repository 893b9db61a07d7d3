package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "unlimited", tp.TruncateText("unlimited", 0))

	// "é" is two bytes; cutting at 2 would split it
	got := tp.TruncateText("aé and more", 2)
	assert.True(t, strings.HasPrefix(got, "a\n[..."), got)
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "ok", tp.SanitizeUTF8("ok"))
	assert.Equal(t, "a\uFFFDb", tp.SanitizeUTF8("a\xffb"))
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Verdict
	}{
		{
			name:  "bare json",
			reply: `{"is_phishing":true,"score":0.93,"explanation":"credential lure"}`,
			want:  Verdict{IsPhishing: true, Score: 0.93, Explanation: "credential lure"},
		},
		{
			name:  "fenced json with prose",
			reply: "Here you go:\n```json\n{\"is_phishing\": false, \"score\": 0.1, \"explanation\": \"newsletter\"}\n```",
			want:  Verdict{IsPhishing: false, Score: 0.1, Explanation: "newsletter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *v)
		})
	}

	_, err := ParseVerdict("I cannot help with that")
	assert.Error(t, err)
}

func TestVerdictPhishing(t *testing.T) {
	assert.True(t, (&Verdict{IsPhishing: true}).Phishing(0.5))
	assert.True(t, (&Verdict{Score: 0.7}).Phishing(0.5))
	assert.False(t, (&Verdict{Score: 0.4}).Phishing(0.5))
	assert.False(t, (&Verdict{Score: 0.9}).Phishing(0))
}

func TestBuildPhishingPrompt(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	prompt := tp.BuildPhishingPrompt("Reset", strings.Repeat("x", 100), 10)

	assert.Contains(t, prompt, "Subject: Reset")
	assert.Contains(t, prompt, "is_phishing")
	assert.NotContains(t, prompt, strings.Repeat("x", 11))
}
