// Package validator implements the business rule checks applied to inbound
// events before they are promoted to trusted records.
package validator

// Allowed value sets for inbound events. These are closed sets, not
// configuration: adding a value is a schema-level change that downstream
// consumers must agree to first.
var (
	AllowedTypes = map[string]bool{
		"ORDER":    true,
		"PAYMENT":  true,
		"SHIPMENT": true,
	}

	AllowedStatuses = map[string]bool{
		"NEW":        true,
		"PROCESSING": true,
		"DONE":       true,
		"FAILED":     true,
	}
)

// Rule identifiers attached to violations.
const (
	RuleAllowedTypes    = "ALLOWED_TYPES"
	RuleAllowedStatuses = "ALLOWED_STATUS"
)

// CategoryBusiness classifies violations produced by this package.
const CategoryBusiness = "BUSINESS"

// SeverityHigh is the severity assigned to allow-list violations.
const SeverityHigh = "HIGH"

// Violation describes a single failed business rule check.
type Violation struct {
	Category string `json:"category"`
	Field    string `json:"field"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Validate checks an event's declared type and status against the allowed
// sets. The returned slice is empty iff the event passes. Violation order is
// deterministic: the type check always precedes the status check.
func Validate(eventType, eventStatus string) []Violation {
	var violations []Violation

	if !AllowedTypes[eventType] {
		violations = append(violations, Violation{
			Category: CategoryBusiness,
			Field:    "event_type",
			Rule:     RuleAllowedTypes,
			Message:  "event_type is not an allowed value",
			Severity: SeverityHigh,
		})
	}

	if !AllowedStatuses[eventStatus] {
		violations = append(violations, Violation{
			Category: CategoryBusiness,
			Field:    "event_status",
			Rule:     RuleAllowedStatuses,
			Message:  "event_status is not an allowed value",
			Severity: SeverityHigh,
		})
	}

	return violations
}
