package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultCharset is the 94 character printable ASCII set PARSeq is trained on.
const DefaultCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// eosToken renders the end-of-sequence class in raw text.
const eosToken = "[E]"

// Charset maps model classes to tokens. Class 0 is end-of-sequence and class
// i > 0 is Tokens[i-1]; any classes past that (BOS, PAD) are never emitted.
type Charset struct {
	Tokens []string
}

// NewCharset builds a charset with one token per rune of s.
func NewCharset(s string) *Charset {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return &Charset{Tokens: tokens}
}

// removeBOM removes UTF-8 BOM if present from the first line.
func removeBOM(line string, isFirstLine bool) string {
	if isFirstLine {
		return strings.TrimPrefix(line, "\uFEFF")
	}
	return line
}

// LoadCharset reads a charset file. A file with a single line is split into
// one token per rune; otherwise every non-empty line is a token. An empty
// path yields the default charset.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return NewCharset(DefaultCharset), nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: configured charset file
	if err != nil {
		return nil, fmt.Errorf("failed to open charset: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lines := make([]string, 0, 128)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(removeBOM(scanner.Text(), lineNum == 1), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading charset: %w", err)
	}

	switch len(lines) {
	case 0:
		return nil, fmt.Errorf("charset is empty: %s", path)
	case 1:
		return NewCharset(lines[0]), nil
	default:
		for i := range lines {
			lines[i] = strings.TrimSpace(lines[i])
		}
		return &Charset{Tokens: lines}, nil
	}
}

// Size returns the number of character tokens, EOS excluded.
func (c *Charset) Size() int { return len(c.Tokens) }

// Classes is the minimum number of classes a model output must have.
func (c *Charset) Classes() int { return len(c.Tokens) + 1 }

// Token returns the token for a model class, and false for EOS or classes
// outside the charset.
func (c *Charset) Token(class int) (string, bool) {
	if class <= 0 || class > len(c.Tokens) {
		return "", false
	}
	return c.Tokens[class-1], true
}

var errEmptyCharset = errors.New("charset has no tokens")

func (c *Charset) validate() error {
	if c == nil || len(c.Tokens) == 0 {
		return errEmptyCharset
	}
	return nil
}
