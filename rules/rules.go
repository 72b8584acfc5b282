// Package rules decides which parts of a page may be annotated. A rule set is
// an ordered list of CSS selectors, each either including or excluding the
// elements it matches.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Type is the kind of a rule as written in a rules file.
type Type string

const (
	Include Type = "include"
	Exclude Type = "exclude"
)

// Class is the classification of a single element.
type Class int

const (
	// ClassInherit means no rule matched; the element takes its parent's class.
	ClassInherit Class = iota
	ClassInclude
	ClassExclude
)

func (c Class) String() string {
	switch c {
	case ClassInclude:
		return "include"
	case ClassExclude:
		return "exclude"
	}
	return "inherit"
}

// Rule is one entry of a rules file.
type Rule struct {
	Selector string `json:"selector"`
	Type     Type   `json:"type"`
}

// ParseError reports a rules file that could not be used. Index is the
// offending rule, or -1 when the file itself is not valid JSON.
type ParseError struct {
	Index    int
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("parsing rules: %v", e.Err)
	}
	return fmt.Sprintf("rule %d (%q): %v", e.Index, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrUnknownType is wrapped by ParseError for a rule whose type is neither
// include nor exclude.
var ErrUnknownType = errors.New("unknown rule type")

type compiled struct {
	rule  Rule
	match cascadia.Selector
}

// Set is a compiled, ordered rule list.
type Set struct {
	rules  []compiled
	source string
}

// defaultRules excludes code-bearing elements, form fields, editable regions
// and anything that already carries ruby markup.
var defaultRules = []Rule{
	{Selector: "script", Type: Exclude},
	{Selector: "style", Type: Exclude},
	{Selector: "noscript", Type: Exclude},
	{Selector: "template", Type: Exclude},
	{Selector: "input", Type: Exclude},
	{Selector: "textarea", Type: Exclude},
	{Selector: "select", Type: Exclude},
	{Selector: `[contenteditable]:not([contenteditable="false"])`, Type: Exclude},
	{Selector: "ruby", Type: Exclude},
	{Selector: "rt", Type: Exclude},
	{Selector: "rp", Type: Exclude},
	{Selector: "[data-furigana]", Type: Exclude},
}

// Default returns the built-in rule set.
func Default() *Set {
	s, err := Compile(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("rules: built-in rules do not compile: %v", err))
	}
	s.source = "default"
	return s
}

// Compile checks and compiles rules. Any bad rule fails the whole set. The
// set's source is "inline" until a loader names the file.
func Compile(rules []Rule) (*Set, error) {
	s := &Set{rules: make([]compiled, 0, len(rules)), source: "inline"}
	for i, r := range rules {
		if r.Type != Include && r.Type != Exclude {
			return nil, &ParseError{Index: i, Selector: r.Selector, Err: fmt.Errorf("%w %q", ErrUnknownType, r.Type)}
		}
		sel, err := cascadia.Compile(r.Selector)
		if err != nil {
			return nil, &ParseError{Index: i, Selector: r.Selector, Err: err}
		}
		s.rules = append(s.rules, compiled{rule: r, match: sel})
	}
	return s, nil
}

// Parse compiles a JSON rules document.
func Parse(data []byte) (*Set, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, &ParseError{Index: -1, Err: err}
	}
	return Compile(rules)
}

// LoadFile reads and compiles a rules file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.source = path
	return s, nil
}

// LoadOrDefault loads path, falling back to the built-in set when the file
// is missing or unusable. A bad file is logged, never fatal.
func LoadOrDefault(path string, logger *zap.Logger) *Set {
	if path == "" {
		return Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("rules file rejected, using built-in rules", zap.String("path", path), zap.Error(err))
		}
		return Default()
	}
	return s
}

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, c := range s.rules {
		out[i] = c.rule
	}
	return out
}

// Source names where the set came from: a file path, "default" or "inline".
func (s *Set) Source() string {
	return s.source
}

// Classify returns the class of el on its own. Rules are checked in order
// and the last match wins.
func (s *Set) Classify(el *html.Node) Class {
	if el == nil || el.Type != html.ElementNode {
		return ClassInherit
	}
	class := ClassInherit
	for _, c := range s.rules {
		if !c.match.Match(el) {
			continue
		}
		if c.rule.Type == Exclude {
			class = ClassExclude
		} else {
			class = ClassInclude
		}
	}
	return class
}

// IsEligible reports whether text under el may be annotated. An exclude on
// el or on any ancestor vetoes it, whatever closer rules say.
func (s *Set) IsEligible(el *html.Node) bool {
	for a := el; a != nil; a = a.Parent {
		if s.Classify(a) == ClassExclude {
			return false
		}
	}
	return true
}
