// Package refine compiles per-document refinement expressions into counter
// predicates using github.com/expr-lang/expr.
//
// An expression sees every top-level field of the document plus _id and
// _path, for example:
//
//	status == "FiboShare"
//	"share" in tags && owner.id == "u1"
package refine

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/ports/secondary"
)

var programs sync.Map // expression -> *exprvm.Program

// Compile returns a predicate evaluating expression against each document.
// A document for which evaluation fails does not match.
func Compile(expression string) (counter.Predicate, error) {
	program, err := loadOrCompile(expression)
	if err != nil {
		return nil, err
	}

	return func(doc secondary.Document) bool {
		out, err := exprlang.Run(program, environment(doc))
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}

// Validate reports whether expression compiles to a boolean program.
func Validate(expression string) error {
	_, err := loadOrCompile(expression)
	return err
}

func loadOrCompile(expression string) (*exprvm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	if cached, ok := programs.Load(expression); ok {
		return cached.(*exprvm.Program), nil
	}

	program, err := exprlang.Compile(expression, exprlang.AsBool(), exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}

	actual, _ := programs.LoadOrStore(expression, program)
	return actual.(*exprvm.Program), nil
}

func environment(doc secondary.Document) map[string]any {
	env := make(map[string]any, len(doc.Data)+2)
	for k, v := range doc.Data {
		env[k] = v
	}
	env["_id"] = doc.ID
	env["_path"] = doc.Path
	return env
}
