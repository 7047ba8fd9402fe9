package agent

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// evalArithmetic is the sandboxed expression language the clojure-eval
// meta-tool is restricted to when enabled: it neither executes
// arbitrary host code nor omits the tool outright, but restricts it to
// numeric arithmetic. Supports +, -, *, /, unary plus and minus, parentheses
// and integer/float literals only, no identifiers, calls, or any other
// Go syntax.
func evalArithmetic(code string) (string, error) {
	expr, err := parser.ParseExpr(code)
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}
	v, err := evalExpr(expr)
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

func evalExpr(e ast.Expr) (float64, error) {
	switch n := e.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal kind")
		}
		var v float64
		if _, err := fmt.Sscanf(n.Value, "%g", &v); err != nil {
			return 0, fmt.Errorf("parse literal %q: %w", n.Value, err)
		}
		return v, nil

	case *ast.ParenExpr:
		return evalExpr(n.X)

	case *ast.UnaryExpr:
		v, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator %s", n.Op)
		}

	case *ast.BinaryExpr:
		left, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalExpr(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		default:
			return 0, fmt.Errorf("unsupported operator %s", n.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported expression syntax")
	}
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
