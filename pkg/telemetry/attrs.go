package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attributes for this port's own domain, the
// compas-specific counterpart to the teacher's helm.* attribute keys.
var (
	AttrValidateMode    = attribute.Key("compas.validate.mode")
	AttrDecisionStatus  = attribute.Key("compas.decision.status")
	AttrBlockingCount   = attribute.Key("compas.decision.blocking_count")
	AttrSuppressedCount = attribute.Key("compas.decision.suppressed_count")

	AttrGateKind = attribute.Key("compas.gate.kind")

	AttrCheckKind = attribute.Key("compas.check.kind")

	AttrToolID   = attribute.Key("compas.tool.id")
	AttrToolExit = attribute.Key("compas.tool.exit_code")
)

// ValidateOperation builds attributes for one validate invocation.
func ValidateOperation(mode string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrValidateMode.String(mode)}
}

// GateOperation builds attributes for one gate invocation.
func GateOperation(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrGateKind.String(kind)}
}

// ToolOperation builds attributes for one tool-runner invocation.
func ToolOperation(toolID string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrToolID.String(toolID)}
}
