package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseExpression(t *testing.T) {
	tests := []struct {
		raw  string
		want Expression
	}{
		{"input.reason", Expression{Source: ExprInput, Path: []string{"reason"}}},
		{"input.refund.amount", Expression{Source: ExprInput, Path: []string{"refund", "amount"}}},
		{" context.tenant_id ", Expression{Source: ExprContext, Path: []string{"tenant_id"}}},
		{"now", Expression{Source: ExprNow}},
		{"'pending'", Expression{Source: ExprLiteral, Literal: "pending"}},
		{"'it''s'", Expression{Source: ExprLiteral, Literal: "it''s"}},
		{"12", Expression{Source: ExprLiteral, Literal: int64(12)}},
		{"-0.25", Expression{Source: ExprLiteral, Literal: -0.25}},
	}
	for _, tt := range tests {
		got, err := ParseExpression(tt.raw)
		if err != nil {
			t.Errorf("ParseExpression(%q) error = %v", tt.raw, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseExpression(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestParseExpression_invalid(t *testing.T) {
	for _, raw := range []string{
		"", "   ", "reason", "input", "input.", "input.a..b",
		"context.email.domain", "context.password", "item.status",
		"Now", "1.2.3", "-", "'unterminated",
	} {
		if e, err := ParseExpression(raw); err == nil {
			t.Errorf("ParseExpression(%q) = %+v, want error", raw, e)
		}
	}
}
