package config

import "fmt"

// ConfigError is the single error type Load ever returns. Its Code is the
// stable, machine-readable kind surfaced to callers as the response's
// `error.code` field; its Error() message is for humans.
type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func errPluginsDirMissing(path string) *ConfigError {
	return &ConfigError{
		Code: "config.plugins_dir_missing",
		Message: fmt.Sprintf(
			"plugins directory not found: %s (expected .agents/mcp/compas/plugins/*/plugin.toml; fix: run `compas init`, or add plugin.toml)",
			path,
		),
	}
}

func errReadPlugin(path string, cause error) *ConfigError {
	return &ConfigError{Code: "config.read_failed", Message: fmt.Sprintf("failed to read plugin config: %s: %v", path, cause)}
}

func errParsePlugin(path string, cause error) *ConfigError {
	return &ConfigError{Code: "config.parse_failed", Message: fmt.Sprintf("failed to parse plugin config toml: %s: %v", path, cause)}
}

func errReadQualityContract(path string, cause error) *ConfigError {
	return &ConfigError{Code: "config.quality_contract_read_failed", Message: fmt.Sprintf("failed to read quality contract toml: %s: %v", path, cause)}
}

func errParseQualityContract(path string, cause error) *ConfigError {
	return &ConfigError{Code: "config.quality_contract_parse_failed", Message: fmt.Sprintf("failed to parse quality contract toml: %s: %v", path, cause)}
}

func errInvalidPluginID(pluginID string) *ConfigError {
	return &ConfigError{Code: "config.invalid_plugin_id", Message: fmt.Sprintf("invalid plugin id: %s", pluginID)}
}

func errInvalidToolID(pluginID, toolID string) *ConfigError {
	return &ConfigError{Code: "config.invalid_tool_id", Message: fmt.Sprintf("invalid tool id: %s (plugin %s)", toolID, pluginID)}
}

func errInvalidCheckID(pluginID, kind, checkID string) *ConfigError {
	return &ConfigError{Code: "config.invalid_check_id", Message: fmt.Sprintf("invalid check id: %s (kind %s, plugin %s)", checkID, kind, pluginID)}
}

func errDuplicatePluginID(pluginID string) *ConfigError {
	return &ConfigError{Code: "config.duplicate_plugin_id", Message: fmt.Sprintf("duplicate plugin id: %s", pluginID)}
}

func errDuplicateTool(toolID, pluginID string) *ConfigError {
	return &ConfigError{Code: "config.duplicate_tool_id", Message: fmt.Sprintf("duplicate tool id: %s (plugin %s)", toolID, pluginID)}
}

func errDuplicateCheckID(kind, checkID, pluginID, previousPluginID string) *ConfigError {
	return &ConfigError{
		Code: "config.duplicate_check_id",
		Message: fmt.Sprintf(
			"duplicate check id: %s (kind %s) found in plugin %s; already defined in plugin %s",
			checkID, kind, pluginID, previousPluginID,
		),
	}
}

func errInvalidDescription(kind, id, message string) *ConfigError {
	return &ConfigError{Code: "config.invalid_description", Message: fmt.Sprintf("invalid %s description (%s): %s", kind, id, message)}
}

func errInvalidToolCommand(pluginID, toolID string) *ConfigError {
	return &ConfigError{Code: "config.invalid_tool_command", Message: fmt.Sprintf("invalid tool command: %s (plugin %s)", toolID, pluginID)}
}

func errToolCommandPolicyViolation(pluginID, toolID, command, mode string) *ConfigError {
	return &ConfigError{
		Code: "config.tool_command_policy_violation",
		Message: fmt.Sprintf(
			"tool command not allowed by policy: command=%s tool=%s plugin=%s mode=%s (fix: set [tool_policy].mode='allow_any' or add command to [tool_policy].allow_commands)",
			command, toolID, pluginID, mode,
		),
	}
}

func errInvalidToolPolicyCommand(pluginID, command string) *ConfigError {
	return &ConfigError{
		Code: "config.invalid_tool_policy_command",
		Message: fmt.Sprintf(
			"invalid [tool_policy].allow_commands entry: %s (plugin %s); must be non-empty and command-like",
			command, pluginID,
		),
	}
}

func errEmptyPlugin(pluginID string) *ConfigError {
	return &ConfigError{Code: "config.empty_plugin", Message: fmt.Sprintf("plugin has no effective config payload: %s", pluginID)}
}

func errUnknownGateTool(pluginID, gateKind, toolID string) *ConfigError {
	return &ConfigError{
		Code: "config.unknown_gate_tool",
		Message: fmt.Sprintf("unknown gate tool reference: %s in %s (plugin %s)", toolID, gateKind, pluginID),
	}
}

func errMissingToolOwner(toolID string) *ConfigError {
	return &ConfigError{Code: "config.missing_tool_owner", Message: fmt.Sprintf("missing tool owner mapping for tool: %s", toolID)}
}

func errInvalidStructuredReport(pluginID, toolID, message string) *ConfigError {
	return &ConfigError{
		Code:    "config.invalid_structured_report",
		Message: fmt.Sprintf("invalid structured_report contract: %s (tool %s, plugin %s)", message, toolID, pluginID),
	}
}

func errEmptyConfig() *ConfigError {
	return &ConfigError{
		Code: "config.empty",
		Message: "no tools/checks configured (expected at least one plugin.toml under .agents/mcp/compas/plugins/*/; fix: run `compas init`, or add plugin.toml)",
	}
}
