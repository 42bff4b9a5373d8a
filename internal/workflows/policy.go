package workflows

import (
	"fmt"
	"sort"

	"flowops/internal/types"
)

// PolicyEvaluation is the outcome of evaluating one policy against a context.
type PolicyEvaluation struct {
	Applies bool
	Action  types.PolicyAction
}

// EvaluatePolicy checks policy conditions against ctx. It is pure: the same
// policy and context always produce the same result.
//
// Conditions are a tree of records. A record with "and" or "or" keys composes
// child nodes; every other key names a field whose value is a record of
// operator -> operand. All entries of one record must hold.
func EvaluatePolicy(policy *types.Policy, ctx types.Record) (PolicyEvaluation, error) {
	if policy == nil {
		return PolicyEvaluation{}, fmt.Errorf("%w: policy is nil", ErrInvalidPolicyDefinition)
	}
	if err := validateAction(policy.Actions); err != nil {
		return PolicyEvaluation{}, fmt.Errorf("%w: policy %s: %v", ErrInvalidPolicyDefinition, policy.ID, err)
	}
	if len(policy.Conditions) == 0 {
		return PolicyEvaluation{}, fmt.Errorf("%w: policy %s has no conditions", ErrInvalidPolicyDefinition, policy.ID)
	}
	ok, err := evalNode(policy.Conditions, ctx)
	if err != nil {
		return PolicyEvaluation{}, fmt.Errorf("%w: policy %s: %v", ErrInvalidPolicyDefinition, policy.ID, err)
	}
	return PolicyEvaluation{Applies: ok, Action: policy.Actions}, nil
}

func validateAction(action types.PolicyAction) error {
	if !action.RequireApproval {
		return nil
	}
	if !action.ApprovalType.Valid() {
		return fmt.Errorf("unknown approval type %q", action.ApprovalType)
	}
	if !action.RiskLevel.Valid() {
		return fmt.Errorf("unknown risk level %q", action.RiskLevel)
	}
	return nil
}

// ValidatePolicyDefinition checks a policy's shape without a context. Every
// field predicate is evaluated against an empty record so operator and
// operand errors surface.
func ValidatePolicyDefinition(policy *types.Policy) error {
	_, err := EvaluatePolicy(policy, types.Record{})
	return err
}

func evalNode(node types.Record, ctx types.Record) (bool, error) {
	if len(node) == 0 {
		return false, fmt.Errorf("empty condition")
	}
	result := true
	// Evaluate every key so malformed branches are reported regardless of order.
	for _, key := range node.Keys() {
		value := node[key]
		var (
			ok  bool
			err error
		)
		switch key {
		case "and", "or":
			ok, err = evalCombinator(key, value, ctx)
		default:
			ok, err = evalField(key, value, ctx)
		}
		if err != nil {
			return false, err
		}
		result = result && ok
	}
	return result, nil
}

func evalCombinator(op string, value types.Value, ctx types.Record) (bool, error) {
	children, ok := value.AsList()
	if !ok || len(children) == 0 {
		return false, fmt.Errorf("%s requires a non-empty list", op)
	}
	results := make([]bool, 0, len(children))
	for i, child := range children {
		childNode, ok := child.AsMap()
		if !ok {
			return false, fmt.Errorf("%s[%d] must be a condition object", op, i)
		}
		res, err := evalNode(childNode, ctx)
		if err != nil {
			return false, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		results = append(results, res)
	}
	if op == "and" {
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	}
	for _, r := range results {
		if r {
			return true, nil
		}
	}
	return false, nil
}

func evalField(field string, predicate types.Value, ctx types.Record) (bool, error) {
	ops, ok := predicate.AsMap()
	if !ok || len(ops) == 0 {
		return false, fmt.Errorf("field %q requires an operator object", field)
	}
	actual, present := ctx.Lookup(field)
	result := true
	for _, op := range ops.Keys() {
		match, err := compare(op, actual, present, ops[op])
		if err != nil {
			return false, fmt.Errorf("field %q: %w", field, err)
		}
		result = result && match
	}
	return result, nil
}

func compare(op string, actual types.Value, present bool, operand types.Value) (bool, error) {
	switch op {
	case "eq":
		if err := checkScalarOperand(op, operand); err != nil {
			return false, err
		}
		return present && scalarEqual(actual, operand), nil
	case "gt", "gte", "lt", "lte":
		want, ok := operand.AsNumber()
		if !ok {
			return false, fmt.Errorf("%s requires a numeric operand", op)
		}
		if !present {
			return false, nil
		}
		got, ok := actual.Numeric()
		if !ok {
			return false, nil
		}
		switch op {
		case "gt":
			return got > want, nil
		case "gte":
			return got >= want, nil
		case "lt":
			return got < want, nil
		default:
			return got <= want, nil
		}
	case "in":
		items, ok := operand.AsList()
		if !ok {
			return false, fmt.Errorf("in requires a list operand")
		}
		for _, item := range items {
			if err := checkScalarOperand(op, item); err != nil {
				return false, err
			}
		}
		if !present {
			return false, nil
		}
		for _, item := range items {
			if scalarEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func checkScalarOperand(op string, operand types.Value) error {
	switch operand.Kind() {
	case types.KindNumber, types.KindString, types.KindBool:
		return nil
	default:
		return fmt.Errorf("%s requires scalar operands, got %s", op, operand.Kind())
	}
}

// scalarEqual compares numbers numerically (accepting numeric strings on the
// context side) and strings exactly.
func scalarEqual(actual, operand types.Value) bool {
	switch operand.Kind() {
	case types.KindNumber:
		want, _ := operand.AsNumber()
		got, ok := actual.Numeric()
		return ok && got == want
	case types.KindString:
		want, _ := operand.AsString()
		got, ok := actual.AsString()
		return ok && got == want
	case types.KindBool:
		want, _ := operand.AsBool()
		got, ok := actual.AsBool()
		return ok && got == want
	}
	return false
}

// GatingDecision is the policy selected to gate a run.
type GatingDecision struct {
	Policy *types.Policy
	Action types.PolicyAction
}

// SelectGatingPolicy evaluates every policy and returns the applicable
// approval-requiring one with the highest risk. Policy ids in skip have
// already been approved for the run. The first malformed policy aborts
// selection and is returned alongside the error.
func SelectGatingPolicy(policies []*types.Policy, ctx types.Record, skip map[string]bool) (*GatingDecision, *types.Policy, error) {
	ordered := append([]*types.Policy(nil), policies...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Name == ordered[j].Name {
			return ordered[i].Version < ordered[j].Version
		}
		return ordered[i].Name < ordered[j].Name
	})
	var best *GatingDecision
	for _, policy := range ordered {
		if policy == nil || skip[policy.ID] {
			continue
		}
		eval, err := EvaluatePolicy(policy, ctx)
		if err != nil {
			return nil, policy, err
		}
		if !eval.Applies || !eval.Action.RequireApproval {
			continue
		}
		if best == nil || eval.Action.RiskLevel.Rank() > best.Action.RiskLevel.Rank() {
			best = &GatingDecision{Policy: policy, Action: eval.Action}
		}
	}
	return best, nil, nil
}
