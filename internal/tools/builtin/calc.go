package builtin

import (
	"context"
	"fmt"
	goast "go/ast"
	goparser "go/parser"
	gotoken "go/token"
	"math"
	"strconv"
	"strings"

	"github.com/openguenther/guenther/internal/tools"
)

func calculateTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "calculate",
		Description: "Wertet einen mathematischen Ausdruck sicher aus. Unterstuetzt +, -, *, /, **, sqrt, sin, cos, tan, log, pi, e.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Der auszuwertende Ausdruck, z.B. '2 * (3 + 4)' oder 'sqrt(16) + pi'",
				},
			},
			"required": []any{"expression"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: calculate,
	}
}

func calculate(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	expression := argString(args, "expression", "")
	result, err := evaluate(expression)
	if err != nil {
		return map[string]any{"error": err.Error(), "expression": expression}, nil
	}
	return map[string]any{"expression": expression, "result": result}, nil
}

var calcFuncs = map[string]func(float64) float64{
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log,
	"log10": math.Log10,
	"round": math.Round,
}

var calcConsts = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// evaluate parses the expression with the Go parser and walks the tree
// with a numbers-only interpreter. `**` is rewritten to `^` first so the
// Python-style power operator keeps working.
func evaluate(expression string) (float64, error) {
	expression = strings.ReplaceAll(expression, "**", "^")
	node, err := goparser.ParseExpr(expression)
	if err != nil {
		return 0, fmt.Errorf("Ungueltiger Ausdruck")
	}
	return evalNode(node)
}

func evalNode(node goast.Expr) (float64, error) {
	switch n := node.(type) {
	case *goast.BasicLit:
		if n.Kind != gotoken.INT && n.Kind != gotoken.FLOAT {
			return 0, fmt.Errorf("Nur Zahlen erlaubt")
		}
		return strconv.ParseFloat(n.Value, 64)
	case *goast.ParenExpr:
		return evalNode(n.X)
	case *goast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case gotoken.SUB:
			return -v, nil
		case gotoken.ADD:
			return v, nil
		}
		return 0, fmt.Errorf("Operator nicht erlaubt")
	case *goast.BinaryExpr:
		left, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case gotoken.ADD:
			return left + right, nil
		case gotoken.SUB:
			return left - right, nil
		case gotoken.MUL:
			return left * right, nil
		case gotoken.QUO:
			if right == 0 {
				return 0, fmt.Errorf("Division durch Null")
			}
			return left / right, nil
		case gotoken.REM:
			return math.Mod(left, right), nil
		case gotoken.XOR:
			return math.Pow(left, right), nil
		}
		return 0, fmt.Errorf("Operator nicht erlaubt: %s", n.Op)
	case *goast.CallExpr:
		ident, ok := n.Fun.(*goast.Ident)
		if !ok {
			return 0, fmt.Errorf("Funktion nicht erlaubt")
		}
		fn, ok := calcFuncs[ident.Name]
		if !ok {
			return 0, fmt.Errorf("Funktion nicht erlaubt: %s", ident.Name)
		}
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("Funktion %s erwartet genau ein Argument", ident.Name)
		}
		arg, err := evalNode(n.Args[0])
		if err != nil {
			return 0, err
		}
		return fn(arg), nil
	case *goast.Ident:
		if v, ok := calcConsts[n.Name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("Variable nicht erlaubt: %s", n.Name)
	}
	return 0, fmt.Errorf("Ungueltiger Ausdruck")
}
