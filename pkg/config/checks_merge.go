package config

import (
	"github.com/compas-dev/compas/pkg/ids"
)

// mergeChecks appends every check instance declared by one plugin's
// checks.* tables into the running aggregate, validating each check ID
// and rejecting duplicates across plugins with the owning plugin cited.
func mergeChecks(agg *ChecksConfig, c *rawChecksConfig, pluginID string, owners map[string]map[string]string, hasAny *bool) error {
	for _, v := range c.Loc {
		if err := claimCheckID("loc", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.Loc = append(agg.Loc, LocCheckConfig{
			ID: v.ID, MaxLoc: v.MaxLoc, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, BaselinePath: v.BaselinePath,
		})
	}
	for _, v := range c.EnvRegistry {
		if err := claimCheckID("env_registry", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.EnvRegistry = append(agg.EnvRegistry, EnvRegistryCheckConfig{ID: v.ID, RegistryPath: v.RegistryPath})
	}
	for _, v := range c.Boundary {
		if err := claimCheckID("boundary", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		var rules []BoundaryRuleConfig
		for _, r := range v.Rules {
			msg := ""
			if r.Message != nil {
				msg = *r.Message
			}
			rules = append(rules, BoundaryRuleConfig{ID: r.ID, Message: msg, DenyRegex: r.DenyRegex})
		}
		agg.Boundary = append(agg.Boundary, BoundaryCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs,
			StripRustCfgTestBlocks: v.StripRustCfgTestBlocks, Rules: rules,
		})
	}
	for _, v := range c.Surface {
		if err := claimCheckID("surface", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.Surface = append(agg.Surface, SurfaceCheckConfig{
			ID: v.ID, MaxItems: v.MaxItems, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, BaselinePath: v.BaselinePath,
		})
	}
	for _, v := range c.Duplicates {
		if err := claimCheckID("duplicates", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.Duplicates = append(agg.Duplicates, DuplicatesCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs,
			MaxFileBytes: v.MaxFileBytes, AllowlistGlobs: v.AllowlistGlobs, BaselinePath: v.BaselinePath,
		})
	}
	for _, v := range c.SupplyChain {
		if err := claimCheckID("supply_chain", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.SupplyChain = append(agg.SupplyChain, SupplyChainCheckConfig{ID: v.ID})
	}
	for _, v := range c.ToolBudget {
		if err := claimCheckID("tool_budget", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.ToolBudget = append(agg.ToolBudget, ToolBudgetCheckConfig{
			ID: v.ID, MaxToolsTotal: v.MaxToolsTotal, MaxToolsPerPlugin: v.MaxToolsPerPlugin,
			MaxGateToolsPerKind: v.MaxGateToolsPerKind, MaxChecksTotal: v.MaxChecksTotal,
		})
	}
	for _, v := range c.ReuseFirst {
		if err := claimCheckID("reuse_first", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		minBlockLines := v.MinBlockLines
		if minBlockLines == 0 {
			minBlockLines = 6
		}
		agg.ReuseFirst = append(agg.ReuseFirst, ReuseFirstCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, MinBlockLines: minBlockLines,
		})
	}
	for _, v := range c.ArchLayers {
		if err := claimCheckID("arch_layers", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		var layers []ArchLayerConfig
		for _, l := range v.Layers {
			layers = append(layers, ArchLayerConfig{ID: l.ID, IncludeGlobs: l.IncludeGlobs, ModulePrefixes: l.ModulePrefixes})
		}
		var rules []ArchLayerRuleConfig
		for _, r := range v.Rules {
			rules = append(rules, ArchLayerRuleConfig{FromLayer: r.FromLayer, DenyToLayers: r.DenyToLayers})
		}
		agg.ArchLayers = append(agg.ArchLayers, ArchLayersCheckConfig{ID: v.ID, Layers: layers, Rules: rules})
	}
	for _, v := range c.DeadCode {
		if err := claimCheckID("dead_code", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		minLen := v.MinSymbolLen
		if minLen == 0 {
			minLen = 3
		}
		agg.DeadCode = append(agg.DeadCode, DeadCodeCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, MinSymbolLen: minLen, Blocking: v.Blocking,
		})
	}
	for _, v := range c.OrphanAPI {
		if err := claimCheckID("orphan_api", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		minLen := v.MinSymbolLen
		if minLen == 0 {
			minLen = 3
		}
		agg.OrphanAPI = append(agg.OrphanAPI, DeadCodeCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, MinSymbolLen: minLen, Blocking: v.Blocking,
		})
	}
	for _, v := range c.ComplexityBudget {
		if err := claimCheckID("complexity_budget", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		agg.ComplexityBudget = append(agg.ComplexityBudget, ComplexityBudgetCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs,
			MaxFunctionLines: v.MaxFunctionLines, MaxCyclomatic: v.MaxCyclomatic, MaxCognitive: v.MaxCognitive,
		})
	}
	for _, v := range c.ContractBreak {
		if err := claimCheckID("contract_break", v.ID, pluginID, owners); err != nil {
			return err
		}
		*hasAny = true
		allowAdditions := true
		if v.AllowAdditions != nil {
			allowAdditions = *v.AllowAdditions
		}
		agg.ContractBreak = append(agg.ContractBreak, ContractBreakCheckConfig{
			ID: v.ID, IncludeGlobs: v.IncludeGlobs, ExcludeGlobs: v.ExcludeGlobs, BaselinePath: v.BaselinePath, AllowAdditions: allowAdditions,
		})
	}
	return nil
}

// claimCheckID validates a check's ID and records pluginID as its owner,
// failing closed if another plugin already claimed the same (kind, id)
// pair.
func claimCheckID(kind, checkID, pluginID string, owners map[string]map[string]string) error {
	if !ids.Valid(checkID) {
		return errInvalidCheckID(pluginID, kind, checkID)
	}
	if owners[kind] == nil {
		owners[kind] = map[string]string{}
	}
	if prev, exists := owners[kind][checkID]; exists {
		return errDuplicateCheckID(kind, checkID, pluginID, prev)
	}
	owners[kind][checkID] = pluginID
	return nil
}
