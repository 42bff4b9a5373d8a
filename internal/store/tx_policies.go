package store

import (
	"fmt"
	"sort"

	"flowops/internal/types"
)

type PolicyFilter struct {
	Name       string
	ActiveOnly bool
}

func (tx *Tx) GetPolicy(id string) (*types.Policy, error) {
	var policy types.Policy
	ok, err := tx.getJSON(bucketPolicies, id, &policy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("policy", id)
	}
	return &policy, nil
}

func (tx *Tx) PutPolicy(policy *types.Policy) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	return tx.putJSON(bucketPolicies, policy.ID, policy)
}

// ListPolicies returns policies ordered by name then version.
func (tx *Tx) ListPolicies(filter PolicyFilter) ([]*types.Policy, error) {
	out := make([]*types.Policy, 0)
	err := scan(tx, bucketPolicies, "", func(p *types.Policy) error {
		if filter.Name != "" && p.Name != filter.Name {
			return nil
		}
		if filter.ActiveOnly && !p.IsActive {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Version < out[j].Version
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
