package condition

import "log/slog"

// Evaluator evaluates condition expressions against a typed context.
//
// Failure policy, by design asymmetric with the router's security
// enforcement: unrecognised atoms fail closed (false), while tokenisation or
// parse errors fail open (true) to preserve workflow liveness. Both log a
// warning.
type Evaluator struct {
	logger *slog.Logger
}

// New creates a new evaluator.
func New() *Evaluator {
	return &Evaluator{logger: slog.Default()}
}

// WithLogger sets a custom logger for the evaluator.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// Evaluate evaluates an expression against the context. An empty expression
// is true.
func (e *Evaluator) Evaluate(expr string, ctx *Context) bool {
	if expr == "" {
		return true
	}
	if ctx == nil {
		ctx = &Context{}
	}

	tokens, err := Tokenize(expr)
	if err != nil {
		e.logger.Warn("condition failed to tokenise, failing open", "expression", expr, "error", err)
		return true
	}

	return e.EvaluateTokens(tokens, ctx, expr)
}

// EvaluateTokens evaluates a pre-tokenised expression. Exposed so callers
// holding tokens observe identical results to evaluating the source string.
func (e *Evaluator) EvaluateTokens(tokens []string, ctx *Context, expr string) bool {
	if len(tokens) == 0 {
		return true
	}
	if ctx == nil {
		ctx = &Context{}
	}

	p := &parser{tokens: tokens, ctx: ctx, logger: e.logger}
	result, err := p.parseExpression()
	if err != nil {
		e.logger.Warn("condition failed to parse, failing open", "expression", expr, "error", err)
		return true
	}
	return result
}
