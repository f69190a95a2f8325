// Package cel adapts google/cel-go into policy.ConditionEvaluator,
// letting a rule's optional Condition field carry a CEL expression
// evaluated over the same (tool, host, agent, arguments, timestamp)
// tuple the four built-in predicates see. Structure (cost/nesting/length
// limits, context-bounded evaluation) is carried over from the teacher's
// own CEL evaluator; the variable set is narrowed from the teacher's
// multi-protocol/identity/destination surface down to the sentinel's
// five-tuple context, since this module has no session or identity
// domain.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

const maxExpressionLength = 1024
const maxCostBudget = 100_000
const maxNestingDepth = 50
const evalTimeout = 5 * time.Second
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions for policy.Rule.Condition.
// Compiled programs are cached by expression text since the same rule's
// condition is evaluated on every request that reaches rule matching.
type Evaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an Evaluator with the default environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: building environment: %w", err)
	}
	return &Evaluator{env: env, cache: map[string]cel.Program{}}, nil
}

// ValidateExpression checks an expression is syntactically valid, within
// the length/nesting limits, and compiles cleanly, without evaluating it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.compile(expr)
	return err
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program creation failed: %w", err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

// Evaluate implements policy.ConditionEvaluator.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, evalCtx policy.Context) (bool, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	arguments := evalCtx.Arguments
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	activation := map[string]any{
		"tool":      evalCtx.Tool,
		"host":      evalCtx.Host,
		"agent":     evalCtx.Agent,
		"arguments": arguments,
		"timestamp": evalCtx.Timestamp,
	}

	boundedCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(boundedCtx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}
