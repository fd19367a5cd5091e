package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ExprSource names where a patch_from expression takes its value.
type ExprSource string

const (
	ExprLiteral ExprSource = "literal"
	ExprInput   ExprSource = "input"
	ExprContext ExprSource = "context"
	ExprNow     ExprSource = "now"
)

// ContextFields are the caller attributes a context.* expression may read.
var ContextFields = []string{"subject_id", "tenant_id", "email", "session_id", "locale"}

// Expression is a parsed patch_from value:
//
//	input.refund.amount   field of the action input, dotted for nesting
//	context.subject_id    attribute of the caller, one of ContextFields
//	now                   time the action runs, RFC 3339 in UTC
//	'declined'            quoted string literal
//	42, -7, 99.5          numeric literal
type Expression struct {
	Source  ExprSource
	Path    []string
	Literal any
}

// ParseExpression parses and checks an expression without evaluating it.
func ParseExpression(raw string) (Expression, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Expression{}, fmt.Errorf("empty expression")
	case s == string(ExprNow):
		return Expression{Source: ExprNow}, nil
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return Expression{Source: ExprLiteral, Literal: s[1 : len(s)-1]}, nil
	case looksNumeric(s):
		n, err := parseNumber(s)
		if err != nil {
			return Expression{}, err
		}
		return Expression{Source: ExprLiteral, Literal: n}, nil
	}

	source, rest, ok := strings.Cut(s, ".")
	if !ok || rest == "" {
		return Expression{}, fmt.Errorf("expression %q needs a source and a path, e.g. input.reason", s)
	}
	path := strings.Split(rest, ".")
	for _, p := range path {
		if p == "" {
			return Expression{}, fmt.Errorf("expression %q has an empty path segment", s)
		}
	}

	switch ExprSource(source) {
	case ExprInput:
		return Expression{Source: ExprInput, Path: path}, nil
	case ExprContext:
		if len(path) != 1 || !slices.Contains(ContextFields, path[0]) {
			return Expression{}, fmt.Errorf("unknown context field %q (want one of %s)", rest, strings.Join(ContextFields, ", "))
		}
		return Expression{Source: ExprContext, Path: path}, nil
	}
	return Expression{}, fmt.Errorf("unknown expression source %q in %q", source, s)
}

// looksNumeric reports whether s starts like a number, optionally signed.
func looksNumeric(s string) bool {
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func parseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q", s)
	}
	return f, nil
}
