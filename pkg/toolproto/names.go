package toolproto

// Canonical tool names every compliant policy server supports. The rule
// planner only ever selects from this set; servers may advertise more.
const (
	ToolGetCustomerPolicies = "get_customer_policies"
	ToolGetPolicyDetails    = "get_policy_details"
	ToolGetCoverageInfo     = "get_coverage_information"
	ToolGetPaymentInfo      = "get_payment_information"
	ToolGetAgent            = "get_agent"
	ToolGetDeductibles      = "get_deductibles"
	ToolGetPolicyTypes      = "get_policy_types"
	ToolGetPolicyList       = "get_policy_list"
	ToolGetRecommendations  = "get_recommendations"
)

// ParamCustomerID is the parameter every canonical tool requires;
// ParamPolicyID is additionally required by get_policy_details.
const (
	ParamCustomerID = "customer_id"
	ParamPolicyID   = "policy_id"
)

// CanonicalTools lists the canonical names in a stable order.
func CanonicalTools() []string {
	return []string{
		ToolGetCustomerPolicies,
		ToolGetPolicyDetails,
		ToolGetCoverageInfo,
		ToolGetPaymentInfo,
		ToolGetAgent,
		ToolGetDeductibles,
		ToolGetPolicyTypes,
		ToolGetPolicyList,
		ToolGetRecommendations,
	}
}
