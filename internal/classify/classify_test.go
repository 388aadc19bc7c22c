// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/pkg/types"
)

var testPolicy = retry.Policy{Retries: 2, BaseDelay: time.Millisecond}

// scriptedGenerator returns responses in order, then repeats the last one.
type scriptedGenerator struct {
	outputs []string
	errs    []error
	calls   int
	last    capability.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req capability.Request) (string, error) {
	i := g.calls
	g.calls++
	g.last = req
	if i >= len(g.outputs) {
		i = len(g.outputs) - 1
	}
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	return g.outputs[i], err
}

func TestClassify(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{
		"```json\n{\"message_type\":\"question\",\"confidence\":0.91,\"contains_code\":false,\"reasoning\":\" asks for help \"}\n```",
	}}
	c := New(gen, testPolicy, nil)

	got, err := c.Classify(context.Background(), "How do I hash passwords in my API?")
	require.NoError(t, err)
	assert.Equal(t, types.MessageQuestion, got.Type)
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
	assert.False(t, got.ContainsCode)
	assert.Equal(t, "asks for help", got.Reasoning)
	assert.True(t, gen.last.JSON)
	assert.Contains(t, gen.last.Prompt, "How do I hash passwords in my API?")
	assert.Equal(t, 1, gen.calls)
}

func TestClassify_ORsLocalCodeDetection(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{`{"message_type":"ANSWER","confidence":0.8,"contains_code":false}`}}
	c := New(gen, testPolicy, nil)

	got, err := c.Classify(context.Background(), "Use this:\n```python\nbcrypt.hashpw(pw, bcrypt.gensalt())\n```")
	require.NoError(t, err)
	assert.Equal(t, types.MessageAnswer, got.Type)
	assert.True(t, got.ContainsCode)
	assert.Equal(t, "python", got.CodeLanguage)
}

func TestClassify_ClampsConfidence(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{`{"message_type":"DISCUSSION","confidence":7}`}}
	got, err := New(gen, testPolicy, nil).Classify(context.Background(), "lol")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestClassify_RetriesThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{
		outputs: []string{"", "not json", `{"message_type":"QUESTION","confidence":0.8}`},
		errs:    []error{errors.New("timeout")},
	}
	got, err := New(gen, testPolicy, nil).Classify(context.Background(), "why?")
	require.NoError(t, err)
	assert.Equal(t, types.MessageQuestion, got.Type)
	assert.Equal(t, 3, gen.calls)
}

func TestClassify_FallbackAfterExhaustion(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{""}, errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	text := "anyone?\n```go\nfunc main() {}\n```"

	got, err := New(gen, testPolicy, nil).Classify(context.Background(), text)
	require.Error(t, err)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, types.MessageDiscussion, got.Type)
	assert.Equal(t, 0.0, got.Confidence)
	assert.True(t, got.ContainsCode, "local code detection must survive a capability failure")
}

func TestClassify_PermanentErrorIsNotRetried(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{""}, errs: []error{&capability.APIError{StatusCode: 401}}}
	_, err := New(gen, testPolicy, nil).Classify(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
}

func TestClassify_UnknownLabel(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{`{"message_type":"RANT","confidence":0.9}`}}
	got, err := New(gen, testPolicy, nil).Classify(context.Background(), "ugh")
	require.Error(t, err)
	assert.Equal(t, types.MessageDiscussion, got.Type)
}

func TestClassify_EmptyText(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"{}"}}
	got, err := New(gen, testPolicy, nil).Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, capability.ErrEmptyInput)
	assert.Equal(t, types.MessageDiscussion, got.Type)
	assert.Equal(t, 0, gen.calls)
}
