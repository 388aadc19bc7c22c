// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package summary turns ranked search results into an InstantAnswer.
// Attribution and confidence are computed here, never by the model.
package summary

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/codespan"
	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/internal/vecmath"
	"github.com/pdiddy/recall-engine/pkg/types"
)

const (
	// NovelQuestionText is the summary for a question with no matching history.
	NovelQuestionText = "No prior discussion found for this question. Your message has been posted so the room can answer it."

	// FallbackText opens the summary when synthesis fails but sources exist.
	FallbackText = "Couldn't synthesize an answer right now. These earlier messages look related, see the sources below."

	codeHeading      = "Code from the discussion:"
	sourcesHeading   = "Sources:"
	maxSourceChars   = 2000
	defaultMaxTokens = 800
)

const systemPrompt = `You help developers by summarizing earlier answers from their team chat.
Answer the question directly in a few sentences using only the provided messages.
Copy any code blocks you use exactly as written, including the triple-backtick fences.
Do not list sources or authors; they are added separately.`

var summaryPromptTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`Question:
{{.Question}}

Earlier messages from the room, most relevant first:
{{range $i, $s := .Sources}}
[{{inc $i}}] similarity {{printf "%.2f" $s.SimilarityScore}}
{{$s.Text}}
{{end}}
Write the answer now.
`))

// Options configures a Generator.
type Options struct {
	// MaxSources is the number of top results passed to the model (default 5).
	MaxSources int

	// Policy bounds and retries the generation call.
	Policy retry.Policy

	MaxTokens int
}

// Generator builds InstantAnswers with a text-generation capability.
type Generator struct {
	gen  capability.Generator
	opts Options
	log  *logger.Logger
}

func New(gen capability.Generator, opts Options, log *logger.Logger) *Generator {
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Generator{gen: gen, opts: opts, log: logger.OrNop(log).With("service", "SummaryGenerator")}
}

// Novel returns the answer for a question with no matching history.
func Novel() types.InstantAnswer {
	return types.InstantAnswer{
		SummaryText:     NovelQuestionText,
		SourceMessages:  []types.SearchResult{},
		Confidence:      1.0,
		IsNovelQuestion: true,
	}
}

// Generate summarizes results for question. It always returns a usable
// answer; a non-nil error means the fallback text was used.
func (g *Generator) Generate(ctx context.Context, question string, results []types.SearchResult) (types.InstantAnswer, error) {
	if len(results) == 0 {
		return Novel(), nil
	}
	sources := results
	if len(sources) > g.opts.MaxSources {
		sources = sources[:g.opts.MaxSources]
	}
	blocks, inline := collectCode(sources)

	answer := types.InstantAnswer{
		SourceMessages: sources,
		Confidence:     Confidence(sources),
	}

	body, err := g.synthesize(ctx, question, sources)
	if err != nil {
		g.log.Warn("summary generation failed, using fallback", "sources", len(sources), "error", err)
		answer.SummaryText = compose(FallbackText, blocks, sources)
		return answer, fmt.Errorf("generating summary: %w", err)
	}

	missing := missingBlocks(body, blocks)
	if len(missing) > 0 {
		g.log.Warn("summary dropped source code, appending it", "missing_blocks", len(missing))
	}
	for _, span := range inline {
		if !strings.Contains(body, span) {
			g.log.Debug("inline code span not in summary", "span", span)
		}
	}
	answer.SummaryText = compose(body, missing, sources)
	return answer, nil
}

func (g *Generator) synthesize(ctx context.Context, question string, sources []types.SearchResult) (string, error) {
	prompt, err := renderPrompt(question, sources)
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return retry.Do(ctx, g.opts.Policy, func(ctx context.Context) (string, error) {
		out, err := g.gen.Generate(ctx, capability.Request{
			System:    systemPrompt,
			Prompt:    prompt,
			MaxTokens: g.opts.MaxTokens,
		})
		if err != nil {
			if !capability.IsRetryable(err) {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", fmt.Errorf("empty summary")
		}
		return out, nil
	})
}

// Confidence blends average similarity (70%), a saturating source
// count (20%, full at three sources) and a code bonus (10%).
func Confidence(sources []types.SearchResult) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	hasCode := false
	for _, s := range sources {
		sum += s.SimilarityScore
		if s.ContainsCode {
			hasCode = true
		}
	}
	avg := sum / float64(len(sources))
	count := float64(len(sources)) / 3
	if count > 1 {
		count = 1
	}
	c := 0.7*avg + 0.2*count
	if hasCode {
		c += 0.1
	}
	return vecmath.Clamp01(c)
}

// SourcesSection renders the attribution list for sources.
func SourcesSection(sources []types.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(sourcesHeading)
	for i, s := range sources {
		author := s.Author
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(&sb, "\n%d. %s, %s (similarity %.2f)", i+1, author, s.Timestamp.UTC().Format(time.RFC3339), s.SimilarityScore)
	}
	return sb.String()
}

func compose(body string, blocks []codespan.Block, sources []types.SearchResult) string {
	parts := []string{strings.TrimSpace(body)}
	if len(blocks) > 0 {
		raws := make([]string, len(blocks))
		for i, b := range blocks {
			raws[i] = b.Raw
		}
		parts = append(parts, codeHeading+"\n"+strings.Join(raws, "\n"))
	}
	parts = append(parts, SourcesSection(sources))
	return strings.Join(parts, "\n\n")
}

// collectCode returns the distinct fenced blocks and inline spans in sources.
func collectCode(sources []types.SearchResult) ([]codespan.Block, []string) {
	var (
		blocks []codespan.Block
		inline []string
		seen   = map[string]bool{}
	)
	for _, s := range sources {
		for _, b := range codespan.Blocks(s.Text) {
			if !seen[b.Code] {
				seen[b.Code] = true
				blocks = append(blocks, b)
			}
		}
		for _, span := range codespan.Inline(s.Text) {
			if !seen["`"+span] {
				seen["`"+span] = true
				inline = append(inline, span)
			}
		}
	}
	return blocks, inline
}

func missingBlocks(output string, blocks []codespan.Block) []codespan.Block {
	var missing []codespan.Block
	for _, b := range blocks {
		if !codespan.Contains(output, b.Code) {
			missing = append(missing, b)
		}
	}
	return missing
}

type promptSource struct {
	Text            string
	SimilarityScore float64
}

func renderPrompt(question string, sources []types.SearchResult) (string, error) {
	ps := make([]promptSource, len(sources))
	for i, s := range sources {
		text := s.Text
		if r := []rune(text); len(r) > maxSourceChars {
			text = string(r[:maxSourceChars]) + " [truncated]"
		}
		ps[i] = promptSource{Text: text, SimilarityScore: s.SimilarityScore}
	}
	var buf bytes.Buffer
	err := summaryPromptTmpl.Execute(&buf, struct {
		Question string
		Sources  []promptSource
	}{Question: strings.TrimSpace(question), Sources: ps})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
