// Package optimizer rewrites bound plans into simpler equivalent plans. Passes run in a fixed
// order; each one takes a tree and returns a new tree, sharing unchanged subtrees.
package optimizer

import (
	"fmt"

	"github.com/microtan/shaolinq/query/plan"
)

// OptimizationInvariantViolation reports a pass that met a tree it cannot handle or produced
// an invalid one.
type OptimizationInvariantViolation struct {
	Pass   string
	Reason string
}

func (e *OptimizationInvariantViolation) Error() string {
	return fmt.Sprintf("optimizer pass %s: %s", e.Pass, e.Reason)
}

// Pass is one named rewrite.
type Pass struct {
	Name string
	// Required passes lower constructs the formatter cannot render; they always run.
	Required bool
	Apply    func(plan.Node) plan.Node
}

var (
	GroupByCollation              = Pass{Name: "group-by-collation", Required: true, Apply: collateGroupBy}
	AggregateSubqueryRewriting    = Pass{Name: "aggregate-subquery-rewriting", Apply: rewriteAggregateSubqueries}
	UnusedColumnRemoval           = Pass{Name: "unused-column-removal", Apply: removeUnusedColumns}
	RedundantColumnRemoval        = Pass{Name: "redundant-column-removal", Apply: removeRedundantColumns}
	RedundantSubqueryRemoval      = Pass{Name: "redundant-subquery-removal", Apply: removeRedundantSubqueries}
	FunctionCoalescing            = Pass{Name: "function-coalescing", Apply: coalesceFunctions}
	ExistsSimplification          = Pass{Name: "exists-simplification", Apply: simplifyExists}
	RedundantBooleanRemoval       = Pass{Name: "redundant-boolean-removal", Apply: removeRedundantBooleans}
	CrossJoinRewriting            = Pass{Name: "cross-join-rewriting", Apply: rewriteCrossJoins}
	ConditionalElimination        = Pass{Name: "conditional-elimination", Apply: eliminateConditionals}
	CollectionExpansion           = Pass{Name: "collection-expansion", Required: true, Apply: expandCollections}
	SubCollectionOrderByAmendment = Pass{Name: "sub-collection-order-by-amendment", Apply: amendSubCollectionOrderBy}
	OrderByNormalization          = Pass{Name: "order-by-normalization", Apply: normalizeOrderBy}
	DataModificationNormalization = Pass{Name: "data-modification-normalization", Required: true, Apply: normalizeDataModification}
)

// DefaultPasses is the first stage in execution order.
var DefaultPasses = []Pass{
	GroupByCollation,
	AggregateSubqueryRewriting,
	UnusedColumnRemoval,
	RedundantColumnRemoval,
	RedundantSubqueryRemoval,
	FunctionCoalescing,
	ExistsSimplification,
	RedundantBooleanRemoval,
	CrossJoinRewriting,
	ConditionalElimination,
	CollectionExpansion,
	SubCollectionOrderByAmendment,
	OrderByNormalization,
}

type options struct {
	enabled      map[string]bool
	lateralJoins bool
	validate     bool
}

// Option configures Optimize.
type Option func(*options)

// WithPasses restricts the optional first-stage passes to the given ones. Required passes
// always run.
func WithPasses(passes ...Pass) Option {
	return func(o *options) {
		o.enabled = map[string]bool{}
		for _, p := range passes {
			o.enabled[p.Name] = true
		}
	}
}

// WithLateralJoins keeps correlated apply joins that cannot be decorrelated, for dialects
// that render them as LATERAL joins.
func WithLateralJoins(supported bool) Option {
	return func(o *options) { o.lateralJoins = supported }
}

// WithValidation checks plan invariants after every pass.
func WithValidation() Option {
	return func(o *options) { o.validate = true }
}

// Optimize runs the pass pipeline over n.
func Optimize(n plan.Node, opts ...Option) (out plan.Node, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	run := func(p Pass) {
		if !p.Required && o.enabled != nil && !o.enabled[p.Name] {
			return
		}
		n = apply(p, n)
		if o.validate {
			if verr := plan.Validate(n); verr != nil {
				panic(&OptimizationInvariantViolation{Pass: p.Name, Reason: verr.Error()})
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if v, ok := r.(*OptimizationInvariantViolation); ok {
				out, err = nil, v
				return
			}
			panic(r)
		}
	}()

	for _, p := range DefaultPasses {
		run(p)
	}

	applies := Pass{Name: "cross-apply-rewriting", Required: true, Apply: func(n plan.Node) plan.Node {
		return rewriteCrossApplies(n, o.lateralJoins)
	}}
	before := n
	run(applies)
	if n != before {
		// decorrelation exposes new column and nesting redundancy; one more round, no more
		for _, p := range []Pass{UnusedColumnRemoval, RedundantColumnRemoval, RedundantSubqueryRemoval, OrderByNormalization} {
			run(p)
		}
	}
	run(DataModificationNormalization)
	return n, nil
}

// apply runs one pass, turning plan package panics into invariant violations.
func apply(p Pass, n plan.Node) (out plan.Node) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *OptimizationInvariantViolation:
				if x.Pass == "" {
					x.Pass = p.Name
				}
				panic(x)
			case error:
				panic(&OptimizationInvariantViolation{Pass: p.Name, Reason: x.Error()})
			default:
				panic(r)
			}
		}
	}()
	return p.Apply(n)
}

// violation aborts the running pass.
func violation(format string, args ...any) {
	panic(&OptimizationInvariantViolation{Reason: fmt.Sprintf(format, args...)})
}
