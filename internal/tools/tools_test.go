package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecore/pkg"
)

func TestEvalExpression(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2 + 3", 5},
		{"10 - 4", 6},
		{"6 * 7", 42},
		{"10 / 4", 2.5},
		{"5 plus 5", 10},
		{"20% of 50", 10},
	}
	for _, tc := range cases {
		got, err := evalExpression(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	_, err := evalExpression("5 / 0")
	assert.Error(t, err)

	_, err = evalExpression("the meaning of life")
	assert.Error(t, err)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), &pkg.ToolRequest{ToolID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistryUndoNotSupported(t *testing.T) {
	r := NewBuiltinRegistry()
	_, err := r.Undo(context.Background(), &pkg.ToolRequest{ToolID: "email_sender"})
	assert.ErrorIs(t, err, ErrUndoNotSupported)
}

func TestBuiltinDocumentTool(t *testing.T) {
	r := NewBuiltinRegistry()
	res, err := r.Execute(context.Background(), &pkg.ToolRequest{
		ToolID: "document_generator",
		Intent: "generate_document",
		Parameters: pkg.Params{
			"content": pkg.StringValue("quarterly sales"),
			"format":  pkg.FormatValue("pdf"),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Message)
}

func TestBuiltinDocumentUndo(t *testing.T) {
	r := NewBuiltinRegistry()
	res, err := r.Undo(context.Background(), &pkg.ToolRequest{
		ToolID: "document_generator",
		Intent: "generate_document",
		Parameters: pkg.Params{
			"content": pkg.StringValue("quarterly sales"),
			"format":  pkg.FormatValue("pdf"),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBuiltinCalculator(t *testing.T) {
	r := NewBuiltinRegistry()
	res, err := r.Execute(context.Background(), &pkg.ToolRequest{
		ToolID: "calculator_service",
		Intent: "calculate",
		Parameters: pkg.Params{
			"expression": pkg.StringValue("6 times 7"),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "42")
}
