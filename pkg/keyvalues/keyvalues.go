// Package keyvalues parses Valve KeyValues text: material definitions and the
// entity lump of compiled levels.
package keyvalues

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Faultbox/srcforge/pkg/encoding"
)

// Parse errors.
var (
	ErrUnexpectedEOF   = errors.New("unexpected end of key-values text")
	ErrUnexpectedToken = errors.New("unexpected token in key-values text")
)

// Node is either a key/value pair or a named block of child nodes.
type Node struct {
	Key      string
	Value    string
	Children []*Node
	IsBlock  bool
}

// Get returns the value of the first child with the given key (case-insensitive).
func (n *Node) Get(key string) (string, bool) {
	for _, c := range n.Children {
		if !c.IsBlock && strings.EqualFold(c.Key, key) {
			return c.Value, true
		}
	}
	return "", false
}

// GetDefault returns the value for key or def when absent.
func (n *Node) GetDefault(key, def string) string {
	if v, ok := n.Get(key); ok {
		return v
	}
	return def
}

// Block returns the first child block with the given key (case-insensitive).
func (n *Node) Block(key string) *Node {
	for _, c := range n.Children {
		if c.IsBlock && strings.EqualFold(c.Key, key) {
			return c
		}
	}
	return nil
}

// All returns every value stored under key, in order.
func (n *Node) All(key string) []string {
	var out []string
	for _, c := range n.Children {
		if !c.IsBlock && strings.EqualFold(c.Key, key) {
			out = append(out, c.Value)
		}
	}
	return out
}

type tokenKind int

const (
	tokString tokenKind = iota
	tokOpen
	tokClose
	tokCondition
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func (l *lexer) next() token {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '{':
			l.pos++
			return token{kind: tokOpen, line: l.line}
		case c == '}':
			l.pos++
			return token{kind: tokClose, line: l.line}
		case c == '[':
			end := strings.IndexByte(l.src[l.pos:], ']')
			if end < 0 {
				// unterminated condition runs to end of input
				text := l.src[l.pos+1:]
				l.pos = len(l.src)
				return token{kind: tokCondition, text: text, line: l.line}
			}
			text := l.src[l.pos+1 : l.pos+end]
			l.pos += end + 1
			return token{kind: tokCondition, text: text, line: l.line}
		case c == '"':
			return l.quoted()
		default:
			start := l.pos
			for l.pos < len(l.src) {
				c := l.src[l.pos]
				if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '{' || c == '}' || c == '"' {
					break
				}
				l.pos++
			}
			return token{kind: tokString, text: l.src[start:l.pos], line: l.line}
		}
	}
	return token{kind: tokEOF, line: l.line}
}

func (l *lexer) quoted() token {
	line := l.line
	l.pos++
	start := l.pos
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '"':
			text := l.src[start:l.pos]
			l.pos++
			return token{kind: tokString, text: text, line: line}
		case '\n':
			l.line++
		}
		l.pos++
	}
	// unterminated string runs to end of input
	return token{kind: tokString, text: l.src[start:], line: line}
}

// Parse parses key-values text into a root block whose children are the
// top-level nodes. Anonymous top-level blocks, as used by the entity lump,
// get an empty key.
func Parse(data []byte) (*Node, error) {
	l := &lexer{src: encoding.LegacyToUTF8(data), line: 1}
	root := &Node{IsBlock: true}
	if err := parseBlock(l, root, true); err != nil {
		return nil, err
	}
	return root, nil
}

// ParseString parses key-values text from a string.
func ParseString(s string) (*Node, error) {
	return Parse([]byte(s))
}

func parseBlock(l *lexer, parent *Node, top bool) error {
	for {
		tok := l.next()
		switch tok.kind {
		case tokEOF:
			if top {
				return nil
			}
			return ErrUnexpectedEOF
		case tokClose:
			if top {
				return fmt.Errorf("%w: '}' at line %d", ErrUnexpectedToken, tok.line)
			}
			return nil
		case tokCondition:
			continue
		case tokOpen:
			if !top {
				return fmt.Errorf("%w: '{' without key at line %d", ErrUnexpectedToken, tok.line)
			}
			child := &Node{IsBlock: true}
			if err := parseBlock(l, child, false); err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		case tokString:
			if err := parseEntry(l, parent, tok.text); err != nil {
				return err
			}
		}
	}
}

func parseEntry(l *lexer, parent *Node, key string) error {
	tok := l.next()
	for tok.kind == tokCondition {
		tok = l.next()
	}
	switch tok.kind {
	case tokString:
		node := &Node{Key: key, Value: tok.text}
		// a trailing condition belongs to this pair
		save := *l
		if next := l.next(); next.kind != tokCondition {
			*l = save
		}
		parent.Children = append(parent.Children, node)
		return nil
	case tokOpen:
		child := &Node{Key: key, IsBlock: true}
		if err := parseBlock(l, child, false); err != nil {
			return err
		}
		parent.Children = append(parent.Children, child)
		return nil
	case tokEOF:
		return fmt.Errorf("%w: key %q has no value", ErrUnexpectedEOF, key)
	default:
		return fmt.Errorf("%w: after key %q at line %d", ErrUnexpectedToken, key, tok.line)
	}
}
