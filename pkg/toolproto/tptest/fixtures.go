package tptest

import (
	"fmt"
	"net/http"

	"github.com/polisware/polis/pkg/toolproto"
)

// registerCanonicalTools loads the nine tools every compliant policy
// server supports, backed by one fixture customer.
func (s *Server) registerCanonicalTools() {
	canonical := []struct {
		name        string
		description string
		schema      map[string]any
		handle      func(params map[string]any) (any, *invokeError)
	}{
		{
			name:        toolproto.ToolGetCustomerPolicies,
			description: "List the policies held by a customer.",
			schema:      customerSchema(),
			handle:      withCustomer(policiesFixture),
		},
		{
			name:        toolproto.ToolGetPolicyDetails,
			description: "Full details for one policy.",
			schema:      policyDetailsSchema(),
			handle:      withCustomer(policyDetailsFixture),
		},
		{
			name:        toolproto.ToolGetCoverageInfo,
			description: "Coverage limits per policy, optionally filtered by coverage type.",
			schema:      coverageSchema(),
			handle:      withCustomer(coverageFixture),
		},
		{
			name:        toolproto.ToolGetPaymentInfo,
			description: "Upcoming payments, amounts due, and payment methods.",
			schema:      customerSchema(),
			handle:      withCustomer(paymentFixture),
		},
		{
			name:        toolproto.ToolGetAgent,
			description: "The servicing agent assigned to a customer.",
			schema:      customerSchema(),
			handle:      withCustomer(agentFixture),
		},
		{
			name:        toolproto.ToolGetDeductibles,
			description: "Deductibles per policy.",
			schema:      customerSchema(),
			handle:      withCustomer(deductiblesFixture),
		},
		{
			name:        toolproto.ToolGetPolicyTypes,
			description: "Catalog of offered policy types.",
			schema:      customerSchema(),
			handle:      requireOnly(policyTypesFixture),
		},
		{
			name:        toolproto.ToolGetPolicyList,
			description: "Catalog of purchasable policy products.",
			schema:      customerSchema(),
			handle:      requireOnly(policyListFixture),
		},
		{
			name:        toolproto.ToolGetRecommendations,
			description: "Product recommendations for a customer.",
			schema:      customerSchema(),
			handle:      withCustomer(recommendationsFixture),
		},
	}

	for _, t := range canonical {
		s.order = append(s.order, t.name)
		s.tools[t.name] = &toolEntry{description: t.description, schema: t.schema, handle: t.handle}
	}
}

func customerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
		},
		"required": []any{"customer_id"},
	}
}

func policyDetailsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
			"policy_id":   map[string]any{"type": "string"},
		},
		"required": []any{"customer_id", "policy_id"},
	}
}

func coverageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id":   map[string]any{"type": "string"},
			"coverage_type": map[string]any{"type": "string"},
		},
		"required": []any{"customer_id"},
	}
}

// withCustomer enforces a present, known customer_id before delegating.
func withCustomer(fn func(params map[string]any) (any, *invokeError)) func(params map[string]any) (any, *invokeError) {
	return func(params map[string]any) (any, *invokeError) {
		id, _ := params["customer_id"].(string)
		if id == "" {
			return nil, &invokeError{status: http.StatusBadRequest, kind: "invalid_params", message: "customer_id is required"}
		}
		if id != CustomerID {
			return nil, &invokeError{status: http.StatusNotFound, kind: "not_found", message: fmt.Sprintf("customer %s not found", id)}
		}
		return fn(params)
	}
}

// requireOnly enforces presence of customer_id without resolving it;
// catalog lookups are not customer-specific.
func requireOnly(fn func(params map[string]any) (any, *invokeError)) func(params map[string]any) (any, *invokeError) {
	return func(params map[string]any) (any, *invokeError) {
		if id, _ := params["customer_id"].(string); id == "" {
			return nil, &invokeError{status: http.StatusBadRequest, kind: "invalid_params", message: "customer_id is required"}
		}
		return fn(params)
	}
}

func policiesFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"customer_id": CustomerID,
		"policies": []map[string]any{
			{"policy_id": AutoPolicyID, "type": "auto", "label": AutoVehicle, "status": "active"},
			{"policy_id": LifePolicyID, "type": "term_life", "label": "Term Life 20-year", "status": "active"},
		},
	}, nil
}

func policyDetailsFixture(params map[string]any) (any, *invokeError) {
	policyID, _ := params["policy_id"].(string)
	switch policyID {
	case AutoPolicyID:
		return map[string]any{
			"policy_id":       AutoPolicyID,
			"type":            "auto",
			"vehicle":         AutoVehicle,
			"vin":             "2HGFC2F59KH542211",
			"status":          "active",
			"effective_date":  "2025-11-01",
			"renewal_date":    "2026-11-01",
			"premium_monthly": 182.50,
			"drivers":         []string{CustomerName},
		}, nil
	case LifePolicyID:
		return map[string]any{
			"policy_id":       LifePolicyID,
			"type":            "term_life",
			"insured":         CustomerName,
			"death_benefit":   250000,
			"term_years":      20,
			"status":          "active",
			"effective_date":  "2019-04-01",
			"premium_monthly": 54.00,
			"beneficiaries":   []map[string]any{{"name": "Casey Reyes", "share": 1.0}},
		}, nil
	case "":
		return nil, &invokeError{status: http.StatusBadRequest, kind: "invalid_params", message: "policy_id is required"}
	default:
		return nil, &invokeError{status: http.StatusNotFound, kind: "not_found", message: fmt.Sprintf("policy %s not found", policyID)}
	}
}

func coverageFixture(params map[string]any) (any, *invokeError) {
	coverages := []map[string]any{
		{
			"policy_id":              AutoPolicyID,
			"type":                   "auto",
			"liability_per_person":   100000,
			"liability_per_accident": 300000,
			"property_damage":        50000,
			"collision":              true,
			"comprehensive":          true,
		},
		{
			"policy_id":     LifePolicyID,
			"type":          "term_life",
			"death_benefit": 250000,
			"term_years":    20,
		},
	}

	if want, _ := params["coverage_type"].(string); want != "" {
		filtered := coverages[:0]
		for _, c := range coverages {
			if c["type"] == want {
				filtered = append(filtered, c)
			}
		}
		coverages = filtered
	}

	return map[string]any{"customer_id": CustomerID, "coverages": coverages}, nil
}

func paymentFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"customer_id": CustomerID,
		"payments": []map[string]any{
			{
				"policy_id":  AutoPolicyID,
				"amount_due": 182.50,
				"due_date":   "2026-09-01",
				"frequency":  "monthly",
				"method":     "auto_draft",
				"autopay":    true,
			},
			{
				"policy_id":  LifePolicyID,
				"amount_due": 54.00,
				"due_date":   "2026-09-15",
				"frequency":  "monthly",
				"method":     "card",
				"autopay":    false,
			},
		},
	}, nil
}

func agentFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"customer_id": CustomerID,
		"agent": map[string]any{
			"name":   AgentName,
			"phone":  "555-0134",
			"email":  "dana.whitfield@polisware.example",
			"office": "Springfield",
		},
	}, nil
}

func deductiblesFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"customer_id": CustomerID,
		"deductibles": []map[string]any{
			{"policy_id": AutoPolicyID, "collision": 500, "comprehensive": 250},
			{"policy_id": LifePolicyID, "note": "life policies carry no deductible"},
		},
	}, nil
}

func policyTypesFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"policy_types": []map[string]any{
			{"type": "auto", "description": "Vehicle liability, collision, and comprehensive coverage."},
			{"type": "home", "description": "Homeowner structure and contents coverage."},
			{"type": "term_life", "description": "Fixed-term life insurance with level premiums."},
			{"type": "umbrella", "description": "Excess liability above auto and home limits."},
		},
	}, nil
}

func policyListFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"products": []map[string]any{
			{"product_id": "PRD-AUTO-STD", "type": "auto", "name": "Standard Auto"},
			{"product_id": "PRD-AUTO-PLUS", "type": "auto", "name": "Auto Plus with roadside"},
			{"product_id": "PRD-HOME-STD", "type": "home", "name": "Homeowner Standard"},
			{"product_id": "PRD-LIFE-T20", "type": "term_life", "name": "Term Life 20-year"},
			{"product_id": "PRD-UMB-1M", "type": "umbrella", "name": "Umbrella 1M"},
		},
	}, nil
}

func recommendationsFixture(map[string]any) (any, *invokeError) {
	return map[string]any{
		"customer_id": CustomerID,
		"recommendations": []map[string]any{
			{"product": "umbrella", "reason": "auto liability at 100/300 pairs well with excess coverage"},
			{"product": "home", "reason": "no property policy on file"},
		},
	}, nil
}
