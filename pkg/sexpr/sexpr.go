// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sexpr reads the S-expression key format of the GnuPG agent and imports protected
// elliptic curve keys from it.
package sexpr

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/siderolabs/go-pgp-secretkey/pkg/keyerror"
)

// maxDepth bounds list nesting.
const maxDepth = 64

// Node is either an atom or a list.
type Node struct {
	Atom []byte
	List []*Node
	// IsList distinguishes an empty list from an empty atom.
	IsList bool
}

// String returns the atom as a string, or "" for lists.
func (n *Node) String() string {
	if n == nil || n.IsList {
		return ""
	}

	return string(n.Atom)
}

// Tag returns the first atom of a list, which names it.
func (n *Node) Tag() string {
	if n == nil || !n.IsList || len(n.List) == 0 {
		return ""
	}

	return n.List[0].String()
}

// Find returns the first direct child list named tag.
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}

	for _, child := range n.List {
		if child.Tag() == tag {
			return child
		}
	}

	return nil
}

// Search returns the first list named tag in a depth-first walk of n, n included.
func (n *Node) Search(tag string) *Node {
	if n == nil || !n.IsList {
		return nil
	}

	if n.Tag() == tag {
		return n
	}

	for _, child := range n.List {
		if found := child.Search(tag); found != nil {
			return found
		}
	}

	return nil
}

// Value returns the atom following the tag of a (tag value) list.
func (n *Node) Value() ([]byte, bool) {
	if n == nil || len(n.List) < 2 || n.List[1].IsList {
		return nil, false
	}

	return n.List[1].Atom, true
}

// Parse parses exactly one expression; only white space may follow it.
func Parse(data []byte) (*Node, error) {
	node, rest, err := ParsePrefix(data)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, keyerror.Format("%d octets after the expression", len(rest))
	}

	return node, nil
}

// ParsePrefix parses the expression at the start of data and returns the octets after it.
//
// Atoms are read in canonical form (3:abc), as #hex# strings, as "quoted" strings or as bare tokens.
func ParsePrefix(data []byte) (*Node, []byte, error) {
	p := &parser{data: data}

	node, err := p.expr(0)
	if err != nil {
		return nil, nil, err
	}

	return node, data[p.pos:], nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) && isSpace(p.data[p.pos]) {
		p.pos++
	}
}

func (p *parser) expr(depth int) (*Node, error) {
	p.skipSpace()

	if p.pos >= len(p.data) {
		return nil, keyerror.Format("unexpected end of expression")
	}

	switch c := p.data[p.pos]; {
	case c == '(':
		return p.list(depth)
	case c == ')':
		return nil, keyerror.Format("unexpected ')' at offset %d", p.pos)
	case c >= '0' && c <= '9':
		return p.verbatim()
	case c == '#':
		return p.hex()
	case c == '"':
		return p.quoted()
	case isTokenStart(c):
		return p.token(), nil
	default:
		return nil, keyerror.Format("unexpected octet 0x%02x at offset %d", c, p.pos)
	}
}

func (p *parser) list(depth int) (*Node, error) {
	if depth >= maxDepth {
		return nil, keyerror.Format("expression nested deeper than %d", maxDepth)
	}

	p.pos++

	node := &Node{IsList: true}

	for {
		p.skipSpace()

		if p.pos >= len(p.data) {
			return nil, keyerror.Format("unterminated list")
		}

		if p.data[p.pos] == ')' {
			p.pos++

			return node, nil
		}

		child, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}

		node.List = append(node.List, child)
	}
}

func (p *parser) verbatim() (*Node, error) {
	start := p.pos

	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}

	if p.pos >= len(p.data) || p.data[p.pos] != ':' {
		return nil, keyerror.Format("length prefix at offset %d is not followed by ':'", start)
	}

	length, err := strconv.Atoi(string(p.data[start:p.pos]))
	if err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	p.pos++

	if length > len(p.data)-p.pos {
		return nil, keyerror.Format("atom of %d octets exceeds the input", length)
	}

	atom := bytes.Clone(p.data[p.pos : p.pos+length])
	p.pos += length

	return &Node{Atom: atom}, nil
}

func (p *parser) hex() (*Node, error) {
	p.pos++

	end := bytes.IndexByte(p.data[p.pos:], '#')
	if end < 0 {
		return nil, keyerror.Format("unterminated hex string")
	}

	digits := bytes.Map(func(r rune) rune {
		if r < 0x80 && isSpace(byte(r)) {
			return -1
		}

		return r
	}, p.data[p.pos:p.pos+end])

	atom := make([]byte, hex.DecodedLen(len(digits)))

	if _, err := hex.Decode(atom, digits); err != nil {
		return nil, keyerror.Wrap(keyerror.KindFormat, err)
	}

	p.pos += end + 1

	return &Node{Atom: atom}, nil
}

func (p *parser) quoted() (*Node, error) {
	p.pos++

	var atom []byte

	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++

		switch c {
		case '"':
			return &Node{Atom: atom}, nil
		case '\\':
			if p.pos >= len(p.data) {
				return nil, keyerror.Format("unterminated escape")
			}

			atom = append(atom, unescape(p.data[p.pos]))
			p.pos++
		default:
			atom = append(atom, c)
		}
	}

	return nil, keyerror.Format("unterminated quoted string")
}

func (p *parser) token() *Node {
	start := p.pos

	for p.pos < len(p.data) && isTokenChar(p.data[p.pos]) {
		p.pos++
	}

	return &Node{Atom: bytes.Clone(p.data[start:p.pos])}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isTokenStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || bytes.IndexByte([]byte("-./_:*+="), c) >= 0
}

func isTokenChar(c byte) bool {
	return isTokenStart(c) || (c >= '0' && c <= '9')
}
