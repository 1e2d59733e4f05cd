/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package filter

import (
	"fmt"
	"strings"
)

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d", ErrSyntax, fmt.Sprintf(format, args...), p.pos)
}

func (p *parser) filter() (*node, error) {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return nil, p.errorf("missing opening parenthesis")
	}
	p.pos++
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of filter")
	}
	var (
		n   *node
		err error
	)
	switch p.src[p.pos] {
	case '&':
		p.pos++
		n, err = p.list(opAnd)
	case '|':
		p.pos++
		n, err = p.list(opOr)
	case '!':
		p.pos++
		var c *node
		if c, err = p.filter(); err == nil {
			n = &node{op: opNot, children: []*node{c}}
		}
	default:
		n, err = p.item()
	}
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return nil, p.errorf("missing closing parenthesis")
	}
	p.pos++
	return n, nil
}

func (p *parser) list(op operator) (*node, error) {
	n := &node{op: op}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '(' {
			break
		}
		c, err := p.filter()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, c)
	}
	if len(n.children) == 0 {
		return nil, p.errorf("empty operand list")
	}
	return n, nil
}

func (p *parser) item() (*node, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=~<>()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	if p.pos >= len(p.src) {
		return nil, p.errorf("missing operator")
	}
	op := opEqual
	switch p.src[p.pos] {
	case '=':
		p.pos++
	case '~', '<', '>':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, p.errorf("invalid operator")
		}
		op = map[byte]operator{'~': opApprox, '<': opLessEq, '>': opGreaterEq}[p.src[p.pos]]
		p.pos += 2
	default:
		return nil, p.errorf("invalid operator")
	}

	parts, err := p.value()
	if err != nil {
		return nil, err
	}
	n := &node{op: op, attr: attr}
	switch {
	case len(parts) == 1:
		n.value = parts[0]
	case op != opEqual:
		return nil, p.errorf("wildcard not allowed with this operator")
	case len(parts) == 2 && parts[0] == "" && parts[1] == "":
		n.op = opPresent
	default:
		n.op = opSubstring
		n.parts = parts
	}
	return n, nil
}

// value reads an assertion value up to the closing parenthesis, splitting it
// on unescaped '*'.
func (p *parser) value() ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
	)
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case ')':
			return append(parts, cur.String()), nil
		case '(':
			return nil, p.errorf("unescaped parenthesis in value")
		case '*':
			parts = append(parts, cur.String())
			cur.Reset()
			p.pos++
		case '\\':
			if p.pos+1 >= len(p.src) {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.src[p.pos+1])
			p.pos += 2
		default:
			cur.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errorf("missing closing parenthesis")
}
