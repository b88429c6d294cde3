// Package config loads and validates the on-disk repository configuration:
// one plugin.toml per plugin directory under .agents/mcp/compas/plugins/,
// plus an optional quality_contract.toml. Grounded on the original
// engine's repo.rs/config.rs merge algorithm, re-expressed with
// BurntSushi/toml decoding and the teacher's environment-driven Load()
// idiom generalized to a file-backed, validated loader.
package config

// ToolExecutionPolicyMode controls which commands a plugin's tools may
// invoke.
type ToolExecutionPolicyMode string

const (
	PolicyAllowlist ToolExecutionPolicyMode = "allowlist"
	PolicyAllowAny  ToolExecutionPolicyMode = "allow_any"
)

// rawPluginFile is the strict TOML shape of a single plugin.toml.
type rawPluginFile struct {
	Plugin     rawPluginMeta        `toml:"plugin"`
	Tools      []rawProjectTool     `toml:"tools"`
	ToolPolicy rawToolPolicy        `toml:"tool_policy"`
	Gate       *rawGateConfig       `toml:"gate"`
	Checks     *rawChecksConfig     `toml:"checks"`
}

type rawPluginMeta struct {
	ID               string   `toml:"id"`
	Description      string   `toml:"description"`
	ToolImportGlobs  []string `toml:"tool_import_globs"`
}

type rawProjectTool struct {
	ID               string                        `toml:"id"`
	Description      string                        `toml:"description"`
	Command          string                        `toml:"command"`
	Args             []string                      `toml:"args"`
	Cwd              string                        `toml:"cwd"`
	TimeoutMs        *uint64                       `toml:"timeout_ms"`
	MaxStdoutBytes   *int                          `toml:"max_stdout_bytes"`
	MaxStderrBytes   *int                          `toml:"max_stderr_bytes"`
	ReceiptContract  *rawToolReceiptContract       `toml:"receipt_contract"`
	StructuredReport *rawStructuredReportContract  `toml:"structured_report"`
	Env              map[string]string             `toml:"env"`
}

type rawToolReceiptContract struct {
	MinDurationMs       *uint64  `toml:"min_duration_ms"`
	MinStdoutBytes      *int     `toml:"min_stdout_bytes"`
	ExpectStdoutPattern *string  `toml:"expect_stdout_pattern"`
	ExpectExitCodes     []int    `toml:"expect_exit_codes"`
}

// rawStructuredReportContract is the on-disk shape of a tool's optional
// structured-report ingestion contract: a machine-readable findings file
// the tool is expected to emit alongside its stdout/stderr receipt.
type rawStructuredReportContract struct {
	Path               string            `toml:"path"`
	Required           bool              `toml:"required"`
	Format             string            `toml:"format"`
	ExpectedVersion    string            `toml:"expected_version"`
	ExpectedSha256     string            `toml:"expected_sha256"`
	CommitFieldPointer string            `toml:"commit_field_pointer"`
	SeverityMap        map[string]string `toml:"severity_map"`
}

type rawToolPolicy struct {
	Mode          ToolExecutionPolicyMode `toml:"mode"`
	AllowCommands []string                `toml:"allow_commands"`
}

type rawGateConfig struct {
	CiFast   []string `toml:"ci_fast"`
	Ci       []string `toml:"ci"`
	Flagship []string `toml:"flagship"`
}

type rawChecksConfig struct {
	Loc               []rawLocCheck              `toml:"loc"`
	EnvRegistry       []rawEnvRegistryCheck       `toml:"env_registry"`
	Boundary          []rawBoundaryCheck          `toml:"boundary"`
	Surface           []rawSurfaceCheck           `toml:"surface"`
	Duplicates        []rawDuplicatesCheck        `toml:"duplicates"`
	SupplyChain       []rawSupplyChainCheck       `toml:"supply_chain"`
	ToolBudget        []rawToolBudgetCheck        `toml:"tool_budget"`
	ReuseFirst        []rawReuseFirstCheck        `toml:"reuse_first"`
	ArchLayers        []rawArchLayersCheck        `toml:"arch_layers"`
	DeadCode          []rawDeadCodeCheck          `toml:"dead_code"`
	OrphanAPI         []rawDeadCodeCheck          `toml:"orphan_api"`
	ComplexityBudget  []rawComplexityBudgetCheck  `toml:"complexity_budget"`
	ContractBreak     []rawContractBreakCheck     `toml:"contract_break"`
}

type rawLocCheck struct {
	ID           string   `toml:"id"`
	MaxLoc       int      `toml:"max_loc"`
	IncludeGlobs []string `toml:"include_globs"`
	ExcludeGlobs []string `toml:"exclude_globs"`
	BaselinePath string   `toml:"baseline_path"`
}

type rawEnvRegistryCheck struct {
	ID           string `toml:"id"`
	RegistryPath string `toml:"registry_path"`
}

type rawBoundaryCheck struct {
	ID                    string             `toml:"id"`
	IncludeGlobs          []string           `toml:"include_globs"`
	ExcludeGlobs          []string           `toml:"exclude_globs"`
	StripRustCfgTestBlocks bool              `toml:"strip_rust_cfg_test_blocks"`
	Rules                 []rawBoundaryRule  `toml:"rules"`
}

type rawBoundaryRule struct {
	ID        string  `toml:"id"`
	Message   *string `toml:"message"`
	DenyRegex string  `toml:"deny_regex"`
}

type rawSurfaceCheck struct {
	ID           string            `toml:"id"`
	MaxItems     int               `toml:"max_items"`
	IncludeGlobs []string          `toml:"include_globs"`
	ExcludeGlobs []string          `toml:"exclude_globs"`
	Rules        []rawSurfaceRule  `toml:"rules"`
	BaselinePath string            `toml:"baseline_path"`
}

type rawSurfaceRule struct {
	FileGlobs   []string `toml:"file_globs"`
	Regex       string   `toml:"regex"`
	Description *string  `toml:"description"`
}

type rawDuplicatesCheck struct {
	ID              string   `toml:"id"`
	IncludeGlobs    []string `toml:"include_globs"`
	ExcludeGlobs    []string `toml:"exclude_globs"`
	MaxFileBytes    int64    `toml:"max_file_bytes"`
	AllowlistGlobs  []string `toml:"allowlist_globs"`
	BaselinePath    string   `toml:"baseline_path"`
}

type rawSupplyChainCheck struct {
	ID string `toml:"id"`
}

type rawToolBudgetCheck struct {
	ID                  string `toml:"id"`
	MaxToolsTotal       int    `toml:"max_tools_total"`
	MaxToolsPerPlugin   int    `toml:"max_tools_per_plugin"`
	MaxGateToolsPerKind int    `toml:"max_gate_tools_per_kind"`
	MaxChecksTotal      int    `toml:"max_checks_total"`
}

type rawReuseFirstCheck struct {
	ID            string   `toml:"id"`
	IncludeGlobs  []string `toml:"include_globs"`
	ExcludeGlobs  []string `toml:"exclude_globs"`
	MinBlockLines int      `toml:"min_block_lines"`
}

type rawArchLayersCheck struct {
	ID     string                 `toml:"id"`
	Layers []rawArchLayer         `toml:"layers"`
	Rules  []rawArchLayerRule     `toml:"rules"`
}

type rawArchLayer struct {
	ID             string   `toml:"id"`
	IncludeGlobs   []string `toml:"include_globs"`
	ModulePrefixes []string `toml:"module_prefixes"`
}

type rawArchLayerRule struct {
	FromLayer    string   `toml:"from_layer"`
	DenyToLayers []string `toml:"deny_to_layers"`
}

type rawDeadCodeCheck struct {
	ID           string   `toml:"id"`
	IncludeGlobs []string `toml:"include_globs"`
	ExcludeGlobs []string `toml:"exclude_globs"`
	MinSymbolLen int      `toml:"min_symbol_len"`
	Blocking     bool     `toml:"blocking"`
}

type rawComplexityBudgetCheck struct {
	ID               string   `toml:"id"`
	IncludeGlobs     []string `toml:"include_globs"`
	ExcludeGlobs     []string `toml:"exclude_globs"`
	MaxFunctionLines int      `toml:"max_function_lines"`
	MaxCyclomatic    int      `toml:"max_cyclomatic"`
	MaxCognitive     int      `toml:"max_cognitive"`
}

type rawContractBreakCheck struct {
	ID             string   `toml:"id"`
	IncludeGlobs   []string `toml:"include_globs"`
	ExcludeGlobs   []string `toml:"exclude_globs"`
	BaselinePath   string   `toml:"baseline_path"`
	AllowAdditions *bool    `toml:"allow_additions"`
}

// ProjectTool is a validated tool declaration, owned by exactly one
// plugin.
type ProjectTool struct {
	ID               string
	Description      string
	Command          string
	Args             []string
	Cwd              string
	TimeoutMs        uint64
	MaxStdoutBytes   int
	MaxStderrBytes   int
	ReceiptContract  *ToolReceiptContract
	StructuredReport *StructuredReportContract
	Env              map[string]string
}

// ToolReceiptContract declares the minimum evidence a tool's receipt must
// carry to be accepted by the gate orchestrator.
type ToolReceiptContract struct {
	MinDurationMs       uint64
	MinStdoutBytes      int
	ExpectStdoutPattern string
	ExpectExitCodes     []int
}

// StructuredReportFormat names the parser pkg/receipts selects for a
// tool's structured-report file.
type StructuredReportFormat string

const (
	ReportFormatAuto  StructuredReportFormat = "auto"
	ReportFormatJSON  StructuredReportFormat = "json"
	ReportFormatSARIF StructuredReportFormat = "sarif"
	ReportFormatJUnit StructuredReportFormat = "junit"
)

// StructuredReportContract declares a tool's optional machine-readable
// findings file: its repo-relative path, expected format, optional
// version/SHA-256/commit pins, and a code-to-severity mapping table.
type StructuredReportContract struct {
	Path               string
	Required           bool
	Format             StructuredReportFormat
	ExpectedVersion    string
	ExpectedSha256     string
	CommitFieldPointer string
	SeverityMap        map[string]string
}

// GateConfig names, per gate kind, the ordered tool sequence the gate
// orchestrator runs.
type GateConfig struct {
	CiFast   []string
	Ci       []string
	Flagship []string
}

// Plugin is the merged, validated view of one plugin.toml.
type Plugin struct {
	ID            string
	Description   string
	ToolIDs       []string
	GateCiFast    []string
	GateCi        []string
	GateFlagship  []string
}

// ChecksConfig aggregates every check kind's configured instances across
// all plugins, keyed by check_id within each kind.
type ChecksConfig struct {
	Loc              []LocCheckConfig
	EnvRegistry      []EnvRegistryCheckConfig
	Boundary         []BoundaryCheckConfig
	Surface          []SurfaceCheckConfig
	Duplicates       []DuplicatesCheckConfig
	SupplyChain      []SupplyChainCheckConfig
	ToolBudget       []ToolBudgetCheckConfig
	ReuseFirst       []ReuseFirstCheckConfig
	ArchLayers       []ArchLayersCheckConfig
	DeadCode         []DeadCodeCheckConfig
	OrphanAPI        []DeadCodeCheckConfig
	ComplexityBudget []ComplexityBudgetCheckConfig
	ContractBreak    []ContractBreakCheckConfig
}

type LocCheckConfig struct {
	ID           string
	MaxLoc       int
	IncludeGlobs []string
	ExcludeGlobs []string
	BaselinePath string
}

type EnvRegistryCheckConfig struct {
	ID           string
	RegistryPath string
}

type BoundaryCheckConfig struct {
	ID                     string
	IncludeGlobs           []string
	ExcludeGlobs           []string
	StripRustCfgTestBlocks bool
	Rules                  []BoundaryRuleConfig
}

type BoundaryRuleConfig struct {
	ID        string
	Message   string
	DenyRegex string
}

type SurfaceCheckConfig struct {
	ID           string
	MaxItems     int
	IncludeGlobs []string
	ExcludeGlobs []string
	BaselinePath string
}

type DuplicatesCheckConfig struct {
	ID             string
	IncludeGlobs   []string
	ExcludeGlobs   []string
	MaxFileBytes   int64
	AllowlistGlobs []string
	BaselinePath   string
}

type SupplyChainCheckConfig struct {
	ID string
}

type ToolBudgetCheckConfig struct {
	ID                  string
	MaxToolsTotal       int
	MaxToolsPerPlugin   int
	MaxGateToolsPerKind int
	MaxChecksTotal      int
}

type ReuseFirstCheckConfig struct {
	ID            string
	IncludeGlobs  []string
	ExcludeGlobs  []string
	MinBlockLines int
}

type ArchLayersCheckConfig struct {
	ID     string
	Layers []ArchLayerConfig
	Rules  []ArchLayerRuleConfig
}

type ArchLayerConfig struct {
	ID             string
	IncludeGlobs   []string
	ModulePrefixes []string
}

type ArchLayerRuleConfig struct {
	FromLayer    string
	DenyToLayers []string
}

type DeadCodeCheckConfig struct {
	ID           string
	IncludeGlobs []string
	ExcludeGlobs []string
	MinSymbolLen int
	Blocking     bool
}

type ComplexityBudgetCheckConfig struct {
	ID               string
	IncludeGlobs     []string
	ExcludeGlobs     []string
	MaxFunctionLines int
	MaxCyclomatic    int
	MaxCognitive     int
}

type ContractBreakCheckConfig struct {
	ID             string
	IncludeGlobs   []string
	ExcludeGlobs   []string
	BaselinePath   string
	AllowAdditions bool
}

// RepoConfig is the fully loaded, validated, merged repository
// configuration — the output of Load.
type RepoConfig struct {
	Tools            map[string]ProjectTool
	ToolOwners       map[string]string
	Plugins          map[string]Plugin
	Gate             GateConfig
	Checks           ChecksConfig
	QualityContract  *QualityContractConfig
	AllowAnyPlugins  []string
}

// QualityContractConfig is the optional quality_contract.toml payload.
// Load leaves it nil when the file is absent; keys missing from a present
// file take their defaults.
type QualityContractConfig struct {
	Quality         QualityThresholds
	Exceptions      ExceptionLimits
	ReceiptDefaults ReceiptDefaults
	Governance      GovernanceConfig
	Baseline        BaselineConfig
	Proof           ProofConfig
	Impact          ImpactConfig
	CustomRules     []CustomRule
	RiskBudget      RiskBudgetConfig
}

// CustomRule is a single declarative [[custom_rules]] entry: a CEL
// expression evaluated against the current QualitySnapshot and raw risk
// summary. A non-boolean or false result yields a blocking
// quality_delta.custom_rule_failed finding tagged with ID.
type CustomRule struct {
	ID         string
	Expression string
}

type QualityThresholds struct {
	MinTrustScore            int
	MinCoveragePercent       float64
	AllowTrustDrop           bool
	AllowCoverageDrop        bool
	MaxWeightedRiskIncrease  int
}

type ExceptionLimits struct {
	MaxExceptions            int
	MaxSuppressedRatio       float64
	MaxExceptionWindowDays   uint32
}

type ReceiptDefaults struct {
	MinDurationMs  uint64
	MinStdoutBytes int
}

type GovernanceConfig struct {
	MandatoryChecks        []string
	MandatoryFailureModes  []string
	MinFailureModes        int
	ConfigHash             string
}

type BaselineConfig struct {
	SnapshotPath       string
	MaxScopeNarrowing  float64
}

type ProofConfig struct {
	RequireWitness bool
	// ArchiveURI, when set, is a gs:// or s3:// bucket prefix the witness
	// file and chain file are best-effort copied to after a successful
	// witness write (pkg/archive). Empty disables archival entirely.
	ArchiveURI string
}

type ImpactUnmappedPathPolicy string

const (
	ImpactIgnore  ImpactUnmappedPathPolicy = "ignore"
	ImpactObserve ImpactUnmappedPathPolicy = "observe"
	ImpactBlock   ImpactUnmappedPathPolicy = "block"
)

type ImpactRule struct {
	ID            string
	PathGlobs     []string
	RequiredTools []string
}

type ImpactConfig struct {
	DiffBase           string
	UnmappedPathPolicy ImpactUnmappedPathPolicy
	Rules              []ImpactRule
}

// RiskBudgetConfig caps the risk a single gate run may accumulate across
// its findings, on top of the call-budget wall-clock deadline. Disabled
// (the zero value) unless a repo opts in: unlike the wall-clock budget,
// which is harmless when left unbounded, a risk score cap of 0 would
// fail-close every gate run, so an explicit Enabled flag is required
// rather than inferring intent from the cap fields.
type RiskBudgetConfig struct {
	Enabled        bool
	RiskScoreCap   float64
	BlastRadiusCap int
}

// DefaultQualityContract mirrors every #[serde(default = ...)] in the
// original quality_contract.toml schema.
func DefaultQualityContract() QualityContractConfig {
	return QualityContractConfig{
		Quality: QualityThresholds{
			MinTrustScore:      60,
			MinCoveragePercent: 60.0,
		},
		Exceptions: ExceptionLimits{
			MaxExceptions:          10,
			MaxSuppressedRatio:     0.30,
			MaxExceptionWindowDays: 90,
		},
		ReceiptDefaults: ReceiptDefaults{
			MinDurationMs:  500,
			MinStdoutBytes: 10,
		},
		Governance: GovernanceConfig{
			MinFailureModes: 8,
		},
		Baseline: BaselineConfig{
			SnapshotPath:      ".agents/mcp/compas/baselines/quality_snapshot.json",
			MaxScopeNarrowing: 0.10,
		},
		Proof: ProofConfig{
			RequireWitness: true,
		},
		Impact: ImpactConfig{
			DiffBase:           "merge-base:origin/main",
			UnmappedPathPolicy: ImpactBlock,
		},
	}
}
