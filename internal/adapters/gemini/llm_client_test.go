package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/phish-filter/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []genai.Part{
					genai.Text(`{"is_phishing":true,`),
					genai.Blob{MIMEType: "image/png"},
					genai.Text(`"score":0.9,"explanation":"spoofed bank"}`),
				},
			},
		}},
	}

	text, err := replyText(resp)
	require.NoError(t, err)

	verdict, err := utils.ParseVerdict(text)
	require.NoError(t, err)
	assert.True(t, verdict.IsPhishing)
	assert.Equal(t, "spoofed bank", verdict.Explanation)
}

func TestReplyText_Empty(t *testing.T) {
	for _, resp := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{}}},
		{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
	} {
		_, err := replyText(resp)
		assert.ErrorContains(t, err, "empty response from Gemini")
	}
}
