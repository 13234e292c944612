package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "hello world", resp.Text())

	empty := &MessageResponse{}
	assert.Empty(t, empty.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 0.80+2.00, u.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestToSDKMessages_Images(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "describe", Images: []ImageBlock{
			{MediaType: "image/jpeg", Data: "aGVsbG8="},
			{MediaType: "image/png", Data: "d29ybGQ="},
		}},
		{Role: "assistant", Content: "ok"},
	})

	assert.Len(t, msgs, 2)
	// Two image blocks plus the text block.
	assert.Len(t, msgs[0].Content, 3)
	assert.Len(t, msgs[1].Content, 1)
}
