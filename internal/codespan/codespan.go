// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package codespan finds code in chat messages: fenced blocks, indented
// blocks, and inline spans. It runs locally, so its result is available
// even when every external capability is down.
package codespan

import (
	"regexp"
	"strings"
)

// fencePattern matches ```lang\n...``` blocks. Chat clients often start a
// fence mid-line, so the fence is not anchored to line starts.
var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)[ \t]*\n?(.*?)```")

// inlinePattern matches single-backtick spans on one line.
var inlinePattern = regexp.MustCompile("`([^`\n]+)`")

// Block is a fenced code block.
type Block struct {
	// Lang is the fence info string, lowercased; empty when absent.
	Lang string

	// Code is the block body without the fences.
	Code string

	// Raw is the block exactly as it appears in the source, fences included.
	Raw string
}

// Blocks returns the fenced code blocks in text, in order of appearance.
// Blocks with an empty body are skipped.
func Blocks(text string) []Block {
	var out []Block
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		code := strings.Trim(m[2], "\n")
		if strings.TrimSpace(code) == "" {
			continue
		}
		out = append(out, Block{
			Lang: strings.ToLower(m[1]),
			Code: code,
			Raw:  m[0],
		})
	}
	return out
}

// Inline returns inline code spans found outside fenced blocks.
func Inline(text string) []string {
	stripped := fencePattern.ReplaceAllString(text, "")
	var out []string
	for _, m := range inlinePattern.FindAllStringSubmatch(stripped, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasIndentedBlock reports whether text has at least two consecutive
// non-blank lines indented by a tab or four spaces.
func HasIndentedBlock(text string) bool {
	run := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" && (strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ")) {
			run++
			if run >= 2 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// Detect reports whether text contains a fenced or indented code block,
// and the best guess at its language.
func Detect(text string) (containsCode bool, lang string) {
	blocks := Blocks(text)
	for _, b := range blocks {
		if b.Lang != "" {
			return true, b.Lang
		}
	}
	if len(blocks) > 0 {
		return true, GuessLanguage(blocks[0].Code)
	}
	if HasIndentedBlock(text) {
		return true, GuessLanguage(text)
	}
	return false, ""
}

var languageHints = []struct {
	lang    string
	pattern *regexp.Regexp
}{
	{"go", regexp.MustCompile(`(?m)^\s*(package \w+|func (\(\w+ \*?\w+\) )?\w+\(|\w+ := )`)},
	{"python", regexp.MustCompile(`(?m)^\s*(def \w+\(|from \w[\w.]* import |import \w+$|print\()`)},
	{"rust", regexp.MustCompile(`(?m)^\s*(fn \w+\(|let mut |use \w+::)`)},
	{"javascript", regexp.MustCompile(`(?m)(console\.log\(|^\s*(const|let) \w+ = |=> \{|require\(')`)},
	{"sql", regexp.MustCompile(`(?im)^\s*(select .+ from |insert into |create table )`)},
	{"bash", regexp.MustCompile(`(?m)^\s*(\$ |sudo |apt(-get)? |brew |npm (install|run) |pip install )`)},
}

// GuessLanguage returns a language name for code based on simple syntax
// hints, or "" when nothing matches.
func GuessLanguage(code string) string {
	for _, h := range languageHints {
		if h.pattern.MatchString(code) {
			return h.lang
		}
	}
	return ""
}

// Contains reports whether output contains code, ignoring differences in
// leading and trailing whitespace on each line.
func Contains(output, code string) bool {
	return strings.Contains(normalize(output), normalize(code))
}

func normalize(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}
