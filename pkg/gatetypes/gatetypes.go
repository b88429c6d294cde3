// Package gatetypes holds the core data model shared by every stage of the
// validate/gate pipeline: findings, decisions, verdicts, postures,
// snapshots, receipts, merged repo configuration, allow-list entries, and
// witness chain entries. None of these types carry behavior beyond small
// constructors and (de)serialization helpers; the algorithms that operate
// on them live in their respective packages (checks, exceptions, insights,
// ratchet, judge, witness).
package gatetypes

import "sort"

// ViolationTier classifies whether a Finding blocks a verdict or is purely
// informational. The zero value (empty) reads as Blocking through
// Finding.EffectiveTier, matching the spec's default: a Finding
// deserialized without an explicit tier field must read as blocking.
type ViolationTier string

const (
	TierBlocking    ViolationTier = "blocking"
	TierObservation ViolationTier = "observation"
)

// ErrorClass is the coarse failure category a DecisionReason carries,
// assigned by the judge's classifier.
type ErrorClass string

const (
	ClassSchemaConfig      ErrorClass = "schema_config"
	ClassContractBreak     ErrorClass = "contract_break"
	ClassRuntimeRisk       ErrorClass = "runtime_risk"
	ClassSecurity          ErrorClass = "security"
	ClassQualityRegression ErrorClass = "quality_regression"
	ClassTransientTool     ErrorClass = "transient_tool"
	ClassUnknown           ErrorClass = "unknown"
)

// DecisionStatus is the ordinal-comparable outcome of a gate or validate
// decision. Ordinal order is Pass < Retryable < Blocked; judge
// aggregation must never move backward along this order as reasons are
// added (monotonicity, spec §8.2).
type DecisionStatus string

const (
	StatusPass      DecisionStatus = "pass"
	StatusRetryable DecisionStatus = "retryable"
	StatusBlocked   DecisionStatus = "blocked"
)

// Ordinal returns the severity rank of a status: higher is worse.
func (s DecisionStatus) Ordinal() int {
	switch s {
	case StatusPass:
		return 0
	case StatusRetryable:
		return 1
	case StatusBlocked:
		return 2
	default:
		return 2
	}
}

// Finding (a.k.a. Violation in the on-disk/wire vocabulary) is the
// immutable unit every check, the exception engine, and structured-report
// ingestion all emit. Only Code and Tier influence a verdict; Message and
// Details exist for humans and downstream tools.
type Finding struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Path    *string     `json:"path,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Tier    ViolationTier `json:"tier,omitempty"`
}

// EffectiveTier returns f.Tier, defaulting to TierBlocking when unset —
// the wire default required by the spec's "default tier" property.
func (f Finding) EffectiveTier() ViolationTier {
	if f.Tier == "" {
		return TierBlocking
	}
	return f.Tier
}

// Blocking constructs a blocking-tier Finding.
func Blocking(code, message string, path *string, details interface{}) Finding {
	return Finding{Code: code, Message: message, Path: path, Details: details, Tier: TierBlocking}
}

// Observation constructs an observation-tier Finding.
func Observation(code, message string, path *string, details interface{}) Finding {
	return Finding{Code: code, Message: message, Path: path, Details: details, Tier: TierObservation}
}

// StrPtr is a convenience helper for building Finding.Path literals.
func StrPtr(s string) *string { return &s }

// SortFindings orders findings in the stable total order the spec
// requires for check output and the final display list: by (code, path),
// treating an absent path as sorting before any present path.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Code != fs[j].Code {
			return fs[i].Code < fs[j].Code
		}
		pi, pj := fs[i].Path, fs[j].Path
		switch {
		case pi == nil && pj == nil:
			return false
		case pi == nil:
			return true
		case pj == nil:
			return false
		default:
			return *pi < *pj
		}
	})
}

// DecisionReason is the judge's per-finding classification: the finding's
// code, the class assigned by the classifier, and its tier — preserved
// from the finding unless it was already Observation.
type DecisionReason struct {
	Code  string        `json:"code"`
	Class ErrorClass    `json:"class"`
	Tier  ViolationTier `json:"tier"`
}

// Decision is the aggregated outcome of judging a set of reasons.
type Decision struct {
	Status           DecisionStatus   `json:"status"`
	Reasons          []DecisionReason `json:"reasons"`
	BlockingCount    int              `json:"blocking_count"`
	ObservationCount int              `json:"observation_count"`
}

// Verdict wraps a Decision with the raw (pre-suppression) posture and a
// summary of what the exception engine suppressed.
type Verdict struct {
	Decision         Decision        `json:"decision"`
	QualityPosture   *QualityPosture `json:"quality_posture,omitempty"`
	SuppressedCount  int             `json:"suppressed_count"`
	SuppressedCodes  []string        `json:"suppressed_codes"`
}

// QualityPosture is the compact numeric summary of quality (trust,
// coverage, risk) computed by insights.
type QualityPosture struct {
	TrustScore       int            `json:"trust_score"`
	TrustGrade       string         `json:"trust_grade"`
	CoverageCovered  int            `json:"coverage_covered"`
	CoverageTotal    int            `json:"coverage_total"`
	WeightedRisk     int            `json:"weighted_risk"`
	FindingsTotal    int            `json:"findings_total"`
	RiskBySeverity   map[string]int `json:"risk_by_severity"`
}

// FileUniverseEntry records, for one scan domain (e.g. "loc", "surface",
// "duplicates"), how many files were actually scanned versus how many
// exist in the domain's universe (post include/exclude filtering) —
// the raw material for quality-delta scope-narrowing detection.
type FileUniverseEntry struct {
	Scanned  int `json:"scanned"`
	Universe int `json:"universe"`
}

// SnapshotVersion is the current on-disk snapshot schema version. Loading
// a snapshot with a higher version is a hard error.
const SnapshotVersion = 1

// WrittenBy records who asked for a baseline refresh and why.
type WrittenBy struct {
	Reason string `json:"reason"`
	Owner  string `json:"owner"`
}

// QualitySnapshot is the persisted posture record used by the ratchet to
// detect regressions against a recorded baseline.
type QualitySnapshot struct {
	Version         int               `json:"version"`
	TrustScore      int               `json:"trust_score"`
	CoverageCovered int               `json:"coverage_covered"`
	CoverageTotal   int               `json:"coverage_total"`
	WeightedRisk    int               `json:"weighted_risk"`
	FindingsTotal   int               `json:"findings_total"`
	RiskBySeverity  map[string]int    `json:"risk_by_severity"`
	LocPerFile      map[string]int    `json:"loc_per_file"`
	SurfaceItems    []string          `json:"surface_items"`
	DuplicateGroups [][]string        `json:"duplicate_groups"`
	FileUniverse    map[string]FileUniverseEntry `json:"file_universe"`
	WrittenAt       string            `json:"written_at"`
	WrittenBy       *WrittenBy        `json:"written_by,omitempty"`
	ConfigHash      string            `json:"config_hash"`
}

// Normalize returns a copy of s with every slice/map sorted into a
// canonical order, so that serialize(deserialize(s)) == serialize(s) and
// so config-hash comparisons are stable regardless of construction order.
func (s QualitySnapshot) Normalize() QualitySnapshot {
	out := s
	out.SurfaceItems = append([]string(nil), s.SurfaceItems...)
	sort.Strings(out.SurfaceItems)

	groups := make([][]string, len(s.DuplicateGroups))
	for i, g := range s.DuplicateGroups {
		gg := append([]string(nil), g...)
		sort.Strings(gg)
		groups[i] = gg
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
	out.DuplicateGroups = groups
	return out
}

// Receipt is the outcome of invoking one external tool during a gate.
type Receipt struct {
	ToolID          string   `json:"tool_id"`
	Success         bool     `json:"success"`
	ExitCode        *int     `json:"exit_code,omitempty"`
	TimedOut        bool     `json:"timed_out"`
	DurationMs      int64    `json:"duration_ms"`
	Command         string   `json:"command"`
	Args            []string `json:"args"`
	StdoutTail      string   `json:"stdout_tail"`
	StderrTail      string   `json:"stderr_tail"`
	StdoutBytes     int64    `json:"stdout_bytes"`
	StderrBytes     int64    `json:"stderr_bytes"`
	StdoutSha256    string   `json:"stdout_sha256"`
	StderrSha256    string   `json:"stderr_sha256"`
	StructuredReport interface{} `json:"structured_report,omitempty"`
}

// AllowlistEntry is one validated (or pending-validation) line of the
// suppression allow-list.
type AllowlistEntry struct {
	ID        string  `toml:"id"`
	Rule      string  `toml:"rule"`
	Path      string  `toml:"path"`
	Owner     string  `toml:"owner"`
	Reason    string  `toml:"reason"`
	ExpiresAt *string `toml:"expires_at"`
}

// WitnessChainEntry is one link of the append-only witness hash chain.
type WitnessChainEntry struct {
	GateKind      string  `json:"gate_kind"`
	Timestamp     string  `json:"timestamp"`
	WitnessSha256 string  `json:"witness_sha256"`
	PrevHash      string  `json:"prev_hash"`
	EntryHash     string  `json:"entry_hash"`
	OK            bool    `json:"ok"`
	Signature     *string `json:"signature,omitempty"`
}

// GenesisHash is the prev_hash value for the first entry of a witness chain.
const GenesisHash = "genesis"
