package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"

	"github.com/compas-dev/compas/pkg/ids"
)

const (
	pluginsDirRel          = ".agents/mcp/compas/plugins"
	qualityContractRel     = ".agents/mcp/compas/quality_contract.toml"
	minDescriptionGraphemes = 12
	maxDescriptionGraphemes = 220
)

var commandLikePattern = regexp.MustCompile(`^[A-Za-z0-9_./\-]+$`)

// Load reads every plugin.toml under repoRoot, merges them into a single
// RepoConfig, and validates referential integrity. On any failure it
// returns a *ConfigError with a stable Code and no partial RepoConfig.
func Load(repoRoot string) (*RepoConfig, error) {
	pluginsDir := filepath.Join(repoRoot, filepath.FromSlash(pluginsDirRel))
	info, statErr := os.Stat(pluginsDir)
	if statErr != nil || !info.IsDir() {
		return nil, errPluginsDirMissing(pluginsDir)
	}

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil, errReadPlugin(pluginsDir, err)
	}

	var pluginTomls []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(pluginsDir, e.Name(), "plugin.toml")
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			pluginTomls = append(pluginTomls, candidate)
		}
	}
	sort.Strings(pluginTomls)

	tools := map[string]ProjectTool{}
	toolOwners := map[string]string{}
	plugins := map[string]Plugin{}
	var allowAnyPlugins []string
	var gate GateConfig
	var checks ChecksConfig

	checkIDOwners := map[string]map[string]string{} // kind -> check_id -> plugin_id
	anyConfig := false

	for _, path := range pluginTomls {
		anyConfig = true

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, errReadPlugin(path, readErr)
		}

		var pf rawPluginFile
		if _, decErr := toml.Decode(string(raw), &pf); decErr != nil {
			return nil, errParsePlugin(path, decErr)
		}

		pluginID := pf.Plugin.ID
		if !ids.ValidNamespaced(pluginID) {
			return nil, errInvalidPluginID(pluginID)
		}
		if err := validateDescription("plugin", pluginID, pf.Plugin.Description); err != nil {
			return nil, err
		}
		if _, exists := plugins[pluginID]; exists {
			return nil, errDuplicatePluginID(pluginID)
		}

		if pf.ToolPolicy.Mode == "" {
			pf.ToolPolicy.Mode = PolicyAllowlist
		}
		if err := validateToolPolicy(pluginID, pf.ToolPolicy); err != nil {
			return nil, err
		}
		if pf.ToolPolicy.Mode == PolicyAllowAny {
			allowAnyPlugins = append(allowAnyPlugins, pluginID)
		}

		var pluginToolIDs []string
		for _, rt := range pf.Tools {
			t, err := validateAndBuildTool(pluginID, rt, pf.ToolPolicy)
			if err != nil {
				return nil, err
			}
			if _, dup := tools[t.ID]; dup {
				return nil, errDuplicateTool(t.ID, pluginID)
			}
			pluginToolIDs = append(pluginToolIDs, t.ID)
			toolOwners[t.ID] = pluginID
			tools[t.ID] = t
		}

		for _, pattern := range pf.Plugin.ToolImportGlobs {
			imported, err := loadImportedTools(repoRoot, pluginID, pattern, pf.ToolPolicy)
			if err != nil {
				return nil, err
			}
			for _, t := range imported {
				if _, dup := tools[t.ID]; dup {
					return nil, errDuplicateTool(t.ID, pluginID)
				}
				pluginToolIDs = append(pluginToolIDs, t.ID)
				toolOwners[t.ID] = pluginID
				tools[t.ID] = t
			}
		}

		gateCfg := GateConfig{}
		if pf.Gate != nil {
			gateCfg = GateConfig{CiFast: pf.Gate.CiFast, Ci: pf.Gate.Ci, Flagship: pf.Gate.Flagship}
		}
		hasGate := len(gateCfg.CiFast) > 0 || len(gateCfg.Ci) > 0 || len(gateCfg.Flagship) > 0
		if hasGate {
			gate.CiFast = append(gate.CiFast, gateCfg.CiFast...)
			gate.Ci = append(gate.Ci, gateCfg.Ci...)
			gate.Flagship = append(gate.Flagship, gateCfg.Flagship...)
		}

		hasAnyCheck := false
		if pf.Checks != nil {
			if err := mergeChecks(&checks, pf.Checks, pluginID, checkIDOwners, &hasAnyCheck); err != nil {
				return nil, err
			}
		}

		hasTools := len(pluginToolIDs) > 0
		if !hasAnyCheck && !hasGate && !hasTools {
			return nil, errEmptyPlugin(pluginID)
		}

		sort.Strings(pluginToolIDs)
		plugins[pluginID] = Plugin{
			ID:           pluginID,
			Description:  pf.Plugin.Description,
			ToolIDs:      pluginToolIDs,
			GateCiFast:   gateCfg.CiFast,
			GateCi:       gateCfg.Ci,
			GateFlagship: gateCfg.Flagship,
		}
	}

	if !anyConfig {
		return nil, errEmptyConfig()
	}

	sort.Strings(allowAnyPlugins)

	qualityContract, err := loadQualityContract(repoRoot)
	if err != nil {
		return nil, err
	}

	for _, p := range plugins {
		if err := ensureKnownGateTools(p.ID, "ci_fast", p.GateCiFast, tools); err != nil {
			return nil, err
		}
		if err := ensureKnownGateTools(p.ID, "ci", p.GateCi, tools); err != nil {
			return nil, err
		}
		if err := ensureKnownGateTools(p.ID, "flagship", p.GateFlagship, tools); err != nil {
			return nil, err
		}
	}
	for toolID := range tools {
		if _, ok := toolOwners[toolID]; !ok {
			return nil, errMissingToolOwner(toolID)
		}
	}

	return &RepoConfig{
		Tools:           tools,
		ToolOwners:      toolOwners,
		Plugins:         plugins,
		Gate:            gate,
		Checks:          checks,
		QualityContract: qualityContract,
		AllowAnyPlugins: allowAnyPlugins,
	}, nil
}

func ensureKnownGateTools(pluginID, gateKind string, toolIDs []string, tools map[string]ProjectTool) error {
	for _, id := range toolIDs {
		if _, ok := tools[id]; !ok {
			return errUnknownGateTool(pluginID, gateKind, id)
		}
	}
	return nil
}

func validateToolPolicy(pluginID string, p rawToolPolicy) error {
	for _, cmd := range p.AllowCommands {
		if strings.TrimSpace(cmd) == "" || !commandLikePattern.MatchString(cmd) {
			return errInvalidToolPolicyCommand(pluginID, cmd)
		}
	}
	return nil
}

func validateAndBuildTool(pluginID string, rt rawProjectTool, policy rawToolPolicy) (ProjectTool, error) {
	if !ids.Valid(rt.ID) {
		return ProjectTool{}, errInvalidToolID(pluginID, rt.ID)
	}
	if err := validateDescription("tool", rt.ID, rt.Description); err != nil {
		return ProjectTool{}, err
	}
	if strings.TrimSpace(rt.Command) == "" {
		return ProjectTool{}, errInvalidToolCommand(pluginID, rt.ID)
	}
	if policy.Mode != PolicyAllowAny {
		allowed := false
		for _, c := range policy.AllowCommands {
			if c == rt.Command {
				allowed = true
				break
			}
		}
		if !allowed {
			return ProjectTool{}, errToolCommandPolicyViolation(pluginID, rt.ID, rt.Command, string(policy.Mode))
		}
	}

	t := ProjectTool{
		ID:          rt.ID,
		Description: rt.Description,
		Command:     rt.Command,
		Args:        rt.Args,
		Cwd:         rt.Cwd,
		Env:         rt.Env,
	}
	if rt.TimeoutMs != nil {
		t.TimeoutMs = *rt.TimeoutMs
	}
	if rt.MaxStdoutBytes != nil {
		t.MaxStdoutBytes = *rt.MaxStdoutBytes
	}
	if rt.MaxStderrBytes != nil {
		t.MaxStderrBytes = *rt.MaxStderrBytes
	}
	if rt.ReceiptContract != nil {
		rc := &ToolReceiptContract{ExpectExitCodes: rt.ReceiptContract.ExpectExitCodes}
		if rt.ReceiptContract.MinDurationMs != nil {
			rc.MinDurationMs = *rt.ReceiptContract.MinDurationMs
		}
		if rt.ReceiptContract.MinStdoutBytes != nil {
			rc.MinStdoutBytes = *rt.ReceiptContract.MinStdoutBytes
		}
		if rt.ReceiptContract.ExpectStdoutPattern != nil {
			rc.ExpectStdoutPattern = *rt.ReceiptContract.ExpectStdoutPattern
		}
		t.ReceiptContract = rc
	}
	if rt.StructuredReport != nil {
		sr := rt.StructuredReport
		format := StructuredReportFormat(sr.Format)
		if format == "" {
			format = ReportFormatAuto
		}
		if strings.TrimSpace(sr.Path) == "" {
			return ProjectTool{}, errInvalidStructuredReport(pluginID, rt.ID, "path must not be empty")
		}
		t.StructuredReport = &StructuredReportContract{
			Path:               sr.Path,
			Required:           sr.Required,
			Format:             format,
			ExpectedVersion:    sr.ExpectedVersion,
			ExpectedSha256:     sr.ExpectedSha256,
			CommitFieldPointer: sr.CommitFieldPointer,
			SeverityMap:        sr.SeverityMap,
		}
	}
	return t, nil
}

// loadImportedTools reads every tool.toml matched by pattern (relative to
// repoRoot) and validates each as if declared inline.
func loadImportedTools(repoRoot, pluginID, pattern string, policy rawToolPolicy) ([]ProjectTool, error) {
	matches, err := filepath.Glob(filepath.Join(repoRoot, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, &ConfigError{Code: "config.import_glob_invalid", Message: fmt.Sprintf("invalid tool import glob (plugin %s): %s: %v", pluginID, pattern, err)}
	}
	sort.Strings(matches)

	var out []ProjectTool
	for _, path := range matches {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, &ConfigError{Code: "config.import_read_failed", Message: fmt.Sprintf("failed to read imported tool config: %s: %v", path, readErr)}
		}
		var rt rawProjectTool
		if _, decErr := toml.Decode(string(raw), &rt); decErr != nil {
			return nil, &ConfigError{Code: "config.import_parse_failed", Message: fmt.Sprintf("failed to parse imported tool toml: %s: %v", path, decErr)}
		}
		t, err := validateAndBuildTool(pluginID, rt, policy)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func loadQualityContract(repoRoot string) (*QualityContractConfig, error) {
	path := filepath.Join(repoRoot, filepath.FromSlash(qualityContractRel))
	info, statErr := os.Stat(path)
	if statErr != nil || info.IsDir() {
		return nil, nil
	}

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, errReadQualityContract(path, readErr)
	}

	var rqc rawQualityContract
	if _, decErr := toml.Decode(string(raw), &rqc); decErr != nil {
		return nil, errParseQualityContract(path, decErr)
	}
	qc := mergeQualityContract(rqc)
	return &qc, nil
}

// rawQualityContract mirrors quality_contract.toml's on-disk shape with
// pointer fields so an absent key can be told apart from an explicit
// zero value when applying defaults.
type rawQualityContract struct {
	Quality struct {
		MinTrustScore           *int     `toml:"min_trust_score"`
		MinCoveragePercent      *float64 `toml:"min_coverage_percent"`
		AllowTrustDrop          bool     `toml:"allow_trust_drop"`
		AllowCoverageDrop       bool     `toml:"allow_coverage_drop"`
		MaxWeightedRiskIncrease int      `toml:"max_weighted_risk_increase"`
	} `toml:"quality"`
	Exceptions struct {
		MaxExceptions          *int     `toml:"max_exceptions"`
		MaxSuppressedRatio     *float64 `toml:"max_suppressed_ratio"`
		MaxExceptionWindowDays *uint32  `toml:"max_exception_window_days"`
	} `toml:"exceptions"`
	ReceiptDefaults struct {
		MinDurationMs  *uint64 `toml:"min_duration_ms"`
		MinStdoutBytes *int    `toml:"min_stdout_bytes"`
	} `toml:"receipt_defaults"`
	Governance struct {
		MandatoryChecks       []string `toml:"mandatory_checks"`
		MandatoryFailureModes []string `toml:"mandatory_failure_modes"`
		MinFailureModes       *int     `toml:"min_failure_modes"`
		ConfigHash            *string  `toml:"config_hash"`
	} `toml:"governance"`
	Baseline struct {
		SnapshotPath      *string  `toml:"snapshot_path"`
		MaxScopeNarrowing *float64 `toml:"max_scope_narrowing"`
	} `toml:"baseline"`
	Proof struct {
		RequireWitness *bool   `toml:"require_witness"`
		ArchiveURI     *string `toml:"archive_uri"`
	} `toml:"proof"`
	Impact struct {
		DiffBase           *string    `toml:"diff_base"`
		UnmappedPathPolicy string     `toml:"unmapped_path_policy"`
		Rules              []rawImpactRule `toml:"rules"`
	} `toml:"impact"`
	CustomRules []rawCustomRule `toml:"custom_rules"`
	RiskBudget  struct {
		Enabled        bool     `toml:"enabled"`
		RiskScoreCap   *float64 `toml:"risk_score_cap"`
		BlastRadiusCap *int     `toml:"blast_radius_cap"`
	} `toml:"risk_budget"`
}

type rawImpactRule struct {
	ID            string   `toml:"id"`
	PathGlobs     []string `toml:"path_globs"`
	RequiredTools []string `toml:"required_tools"`
}

type rawCustomRule struct {
	ID         string `toml:"id"`
	Expression string `toml:"expression"`
}

func mergeQualityContract(r rawQualityContract) QualityContractConfig {
	qc := DefaultQualityContract()

	if r.Quality.MinTrustScore != nil {
		qc.Quality.MinTrustScore = *r.Quality.MinTrustScore
	}
	if r.Quality.MinCoveragePercent != nil {
		qc.Quality.MinCoveragePercent = *r.Quality.MinCoveragePercent
	}
	qc.Quality.AllowTrustDrop = r.Quality.AllowTrustDrop
	qc.Quality.AllowCoverageDrop = r.Quality.AllowCoverageDrop
	qc.Quality.MaxWeightedRiskIncrease = r.Quality.MaxWeightedRiskIncrease

	if r.Exceptions.MaxExceptions != nil {
		qc.Exceptions.MaxExceptions = *r.Exceptions.MaxExceptions
	}
	if r.Exceptions.MaxSuppressedRatio != nil {
		qc.Exceptions.MaxSuppressedRatio = *r.Exceptions.MaxSuppressedRatio
	}
	if r.Exceptions.MaxExceptionWindowDays != nil {
		qc.Exceptions.MaxExceptionWindowDays = *r.Exceptions.MaxExceptionWindowDays
	}

	if r.ReceiptDefaults.MinDurationMs != nil {
		qc.ReceiptDefaults.MinDurationMs = *r.ReceiptDefaults.MinDurationMs
	}
	if r.ReceiptDefaults.MinStdoutBytes != nil {
		qc.ReceiptDefaults.MinStdoutBytes = *r.ReceiptDefaults.MinStdoutBytes
	}

	qc.Governance.MandatoryChecks = r.Governance.MandatoryChecks
	qc.Governance.MandatoryFailureModes = r.Governance.MandatoryFailureModes
	if r.Governance.MinFailureModes != nil {
		qc.Governance.MinFailureModes = *r.Governance.MinFailureModes
	}
	if r.Governance.ConfigHash != nil {
		qc.Governance.ConfigHash = *r.Governance.ConfigHash
	}

	if r.Baseline.SnapshotPath != nil {
		qc.Baseline.SnapshotPath = *r.Baseline.SnapshotPath
	}
	if r.Baseline.MaxScopeNarrowing != nil {
		qc.Baseline.MaxScopeNarrowing = *r.Baseline.MaxScopeNarrowing
	}

	if r.Proof.RequireWitness != nil {
		qc.Proof.RequireWitness = *r.Proof.RequireWitness
	}
	if r.Proof.ArchiveURI != nil {
		qc.Proof.ArchiveURI = *r.Proof.ArchiveURI
	}

	if r.Impact.DiffBase != nil {
		qc.Impact.DiffBase = *r.Impact.DiffBase
	}
	if r.Impact.UnmappedPathPolicy != "" {
		qc.Impact.UnmappedPathPolicy = ImpactUnmappedPathPolicy(r.Impact.UnmappedPathPolicy)
	}
	for _, rule := range r.Impact.Rules {
		qc.Impact.Rules = append(qc.Impact.Rules, ImpactRule{
			ID:            rule.ID,
			PathGlobs:     rule.PathGlobs,
			RequiredTools: rule.RequiredTools,
		})
	}

	for _, rule := range r.CustomRules {
		qc.CustomRules = append(qc.CustomRules, CustomRule{ID: rule.ID, Expression: rule.Expression})
	}

	qc.RiskBudget.Enabled = r.RiskBudget.Enabled
	if r.RiskBudget.RiskScoreCap != nil {
		qc.RiskBudget.RiskScoreCap = *r.RiskBudget.RiskScoreCap
	}
	if r.RiskBudget.BlastRadiusCap != nil {
		qc.RiskBudget.BlastRadiusCap = *r.RiskBudget.BlastRadiusCap
	}

	return qc
}

// validateDescription enforces the [12,220]-grapheme length invariant,
// counting grapheme-cluster boundaries via NFC normalization boundaries
// rather than raw rune count, since multi-rune clusters (e.g. combining
// marks) should count as one visible character.
func validateDescription(kind, id, description string) error {
	n := graphemeLen(description)
	if n < minDescriptionGraphemes || n > maxDescriptionGraphemes {
		return errInvalidDescription(kind, id, fmt.Sprintf("description must be %d-%d characters, got %d", minDescriptionGraphemes, maxDescriptionGraphemes, n))
	}
	return nil
}

func graphemeLen(s string) int {
	count := 0
	b := []byte(s)
	for len(b) > 0 {
		i := norm.NFC.NextBoundary(b, true)
		if i <= 0 {
			break
		}
		b = b[i:]
		count++
	}
	return count
}
