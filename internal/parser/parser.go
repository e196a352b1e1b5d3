package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax reports misplaced pipeline operators.
var ErrSyntax = errors.New("syntax error")

const (
	opPipe       = "|"
	opRedirect   = ">"
	opBackground = "&"
)

// Stage is one command of a pipeline.
type Stage struct {
	Args []string
}

// Pipeline is everything parsed from one input line.
type Pipeline struct {
	Stages     []Stage
	Background bool
	// Redirect is the file the last stage's stdout is appended to, if any.
	Redirect string
	// Text is the line the pipeline was parsed from, kept for display.
	Text string
}

// Name returns the first word of the pipeline.
func (p *Pipeline) Name() string {
	return p.Stages[0].Args[0]
}

// Parse splits a line on whitespace.
func Parse(input string) []string {
	return strings.Fields(input)
}

// ParseLine splits and parses a line. It returns a nil pipeline for blank input.
func ParseLine(input string) (*Pipeline, error) {
	words := Parse(input)
	if len(words) == 0 {
		return nil, nil
	}
	p, err := ParseWords(words)
	if err != nil {
		return nil, err
	}
	p.Text = strings.Join(words, " ")
	return p, nil
}

// ParseWords builds a pipeline from already tokenized words. Operators must be
// standalone words: a trailing & marks the pipeline background, | separates
// stages and > in the last stage names the output file.
func ParseWords(words []string) (*Pipeline, error) {
	p := &Pipeline{}

	if n := len(words); n > 0 && words[n-1] == opBackground {
		p.Background = true
		words = words[:n-1]
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w near %q", ErrSyntax, opBackground)
	}

	var cur []string
	for _, w := range words {
		if w != opPipe {
			cur = append(cur, w)
			continue
		}
		if len(cur) == 0 {
			return nil, fmt.Errorf("%w near %q", ErrSyntax, opPipe)
		}
		p.Stages = append(p.Stages, Stage{Args: cur})
		cur = nil
	}
	if len(cur) == 0 {
		return nil, fmt.Errorf("%w near %q", ErrSyntax, opPipe)
	}

	args, target, err := parseRedirection(cur)
	if err != nil {
		return nil, err
	}
	p.Stages = append(p.Stages, Stage{Args: args})
	p.Redirect = target
	return p, nil
}

// parseRedirection removes the first "> file" pair from a stage.
func parseRedirection(tokens []string) (clean []string, outFile string, err error) {
	for i := 0; i < len(tokens); i++ {
		if tokens[i] != opRedirect || outFile != "" {
			clean = append(clean, tokens[i])
			continue
		}
		if i+1 >= len(tokens) || tokens[i+1] == opRedirect {
			return nil, "", fmt.Errorf("%w: %q without a file name", ErrSyntax, opRedirect)
		}
		outFile = tokens[i+1]
		i++
	}
	if len(clean) == 0 {
		return nil, "", fmt.Errorf("%w: missing command before %q", ErrSyntax, opRedirect)
	}
	return clean, outFile, nil
}
