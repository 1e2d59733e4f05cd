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

// Package filter parses and evaluates LDAP-style service filters such as
// (&(objectClass=log.Service)(|(level>=3)(name=debug*))).
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"dirpx.dev/bindx/apis"
	uref "dirpx.dev/bindx/utils/reflect"
)

// ErrSyntax is returned for malformed filter expressions.
var ErrSyntax = errors.New("bindx(filter): invalid filter")

type operator int

const (
	opAnd operator = iota
	opOr
	opNot
	opEqual
	opApprox
	opLessEq
	opGreaterEq
	opPresent
	opSubstring
)

type node struct {
	op       operator
	attr     string
	value    string
	parts    []string // substring pieces; empty first/last element means a leading/trailing wildcard
	children []*node
}

// Filter is a parsed filter expression. It is immutable and safe for
// concurrent use.
type Filter struct {
	root *node
	expr string
}

var _ apis.Filter = (*Filter)(nil)

// Parse parses expr. A bare item such as "name=foo" is accepted and treated
// as "(name=foo)".
func Parse(expr string) (*Filter, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if s[0] != '(' {
		s = "(" + s + ")"
	}
	p := &parser{src: s}
	root, err := p.filter()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: unexpected trailing input at %d", ErrSyntax, p.pos)
	}
	f := &Filter{root: root}
	f.expr = render(root)
	return f, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Filter {
	f, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the normalized expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against the properties of ref.
func (f *Filter) Match(ref apis.Reference) bool {
	if ref == nil {
		return false
	}
	return f.root.eval(ref.Property)
}

// MatchProperties evaluates the filter against props, keys compared
// case-insensitively.
func (f *Filter) MatchProperties(props map[string]any) bool {
	lower := make(map[string]any, len(props))
	for k, v := range props {
		lower[strings.ToLower(k)] = v
	}
	return f.root.eval(func(k string) (any, bool) {
		v, ok := lower[strings.ToLower(k)]
		return v, ok
	})
}

type lookup func(key string) (any, bool)

func (n *node) eval(get lookup) bool {
	switch n.op {
	case opAnd:
		for _, c := range n.children {
			if !c.eval(get) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range n.children {
			if c.eval(get) {
				return true
			}
		}
		return false
	case opNot:
		return !n.children[0].eval(get)
	}
	v, ok := get(n.attr)
	if !ok || v == nil {
		return false
	}
	if n.op == opPresent {
		return true
	}
	if elems, ok := uref.Elements(v); ok {
		for _, e := range elems {
			if n.compare(e) {
				return true
			}
		}
		return false
	}
	return n.compare(v)
}

func (n *node) compare(v any) bool {
	switch x := uref.Normalize(v).(type) {
	case string:
		return n.compareString(x)
	case int64:
		y, err := strconv.ParseInt(strings.TrimSpace(n.value), 10, 64)
		if err != nil {
			return n.op == opSubstring && n.compareString(strconv.FormatInt(x, 10))
		}
		return ordered(n.op, order(x, y))
	case uint64:
		y, err := strconv.ParseUint(strings.TrimSpace(n.value), 10, 64)
		if err != nil {
			return false
		}
		return ordered(n.op, order(x, y))
	case float64:
		y, err := strconv.ParseFloat(strings.TrimSpace(n.value), 64)
		if err != nil {
			return false
		}
		return ordered(n.op, order(x, y))
	case bool:
		y, err := strconv.ParseBool(strings.TrimSpace(n.value))
		if err != nil {
			return false
		}
		return (n.op == opEqual || n.op == opApprox) && x == y
	case fmt.Stringer:
		return n.compareString(x.String())
	default:
		return n.compareString(fmt.Sprint(x))
	}
}

func (n *node) compareString(s string) bool {
	switch n.op {
	case opEqual:
		return s == n.value
	case opApprox:
		return approx(s) == approx(n.value)
	case opLessEq:
		return s <= n.value
	case opGreaterEq:
		return s >= n.value
	case opSubstring:
		return matchSubstring(s, n.parts)
	}
	return false
}

func order[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func ordered(op operator, c int) bool {
	switch op {
	case opEqual, opApprox:
		return c == 0
	case opLessEq:
		return c <= 0
	case opGreaterEq:
		return c >= 0
	}
	return false
}

func approx(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

func matchSubstring(s string, parts []string) bool {
	if len(parts) == 0 {
		return true
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for _, p := range parts[1:last] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, parts[last])
}

func render(n *node) string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *node) write(b *strings.Builder) {
	b.WriteByte('(')
	switch n.op {
	case opAnd, opOr, opNot:
		b.WriteString(map[operator]string{opAnd: "&", opOr: "|", opNot: "!"}[n.op])
		for _, c := range n.children {
			c.write(b)
		}
	case opPresent:
		b.WriteString(n.attr)
		b.WriteString("=*")
	case opSubstring:
		b.WriteString(n.attr)
		b.WriteByte('=')
		for i, p := range n.parts {
			if i > 0 {
				b.WriteByte('*')
			}
			b.WriteString(escape(p))
		}
	default:
		b.WriteString(n.attr)
		b.WriteString(map[operator]string{opEqual: "=", opApprox: "~=", opLessEq: "<=", opGreaterEq: ">="}[n.op])
		b.WriteString(escape(n.value))
	}
	b.WriteByte(')')
}

func escape(s string) string {
	if !strings.ContainsAny(s, `\()*`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '(', ')', '*':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
