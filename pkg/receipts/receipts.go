// Package receipts ingests a tool's optional structured-report file: a
// machine-readable findings list the tool writes alongside its stdout,
// in json, sarif, or junit form. Grounded on the distilled spec's §4.13
// and the original engine's structured_report.rs normalization and
// version/sha256/commit pinning.
package receipts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// jsonReportSchema is the structural shape every json-format report must
// satisfy before field-by-field extraction is attempted: an object
// carrying a findings or results array. Catching a malformed report here
// gives one precise error instead of a chain of missing-field lookups.
const jsonReportSchemaText = `{
  "type": "object",
  "anyOf": [
    {"type": "object", "required": ["findings"], "properties": {"findings": {"type": "array"}}},
    {"type": "object", "required": ["results"], "properties": {"results": {"type": "array"}}}
  ]
}`

var jsonReportSchema = mustCompileSchema(jsonReportSchemaText)

func mustCompileSchema(text string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("structured_report.json", bytes.NewReader([]byte(text))); err != nil {
		panic(fmt.Sprintf("receipts: invalid embedded json report schema: %v", err))
	}
	sch, err := c.Compile("structured_report.json")
	if err != nil {
		panic(fmt.Sprintf("receipts: invalid embedded json report schema: %v", err))
	}
	return sch
}

type parsedFinding struct {
	code         string
	category     string
	message      string
	path         string
	line         *int64
	severityRaw  string
	evidenceRef  string
}

type parsedReport struct {
	findings  []parsedFinding
	version   string
	commitSHA string
}

// Ingest reads and validates tool's structured-report file (if
// configured), normalizes it into gate findings, and returns them along
// with an evidence summary suitable for Receipt.StructuredReport.
// Business-rule violations (missing required report, SHA/version/commit
// mismatch, malformed content) are returned as blocking findings, not as
// a Go error — the error return is reserved for conditions outside the
// contract itself, which in practice should not occur given a
// config-validated contract.
func Ingest(repoRoot string, tool config.ProjectTool, r gatetypes.Receipt) ([]gatetypes.Finding, map[string]interface{}, error) {
	cfg := tool.StructuredReport
	if cfg == nil {
		return nil, nil, nil
	}

	reportPath := cfg.Path
	if !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(repoRoot, filepath.FromSlash(reportPath))
	}

	info, statErr := os.Stat(reportPath)
	if statErr != nil || info.IsDir() {
		if cfg.Required {
			return []gatetypes.Finding{gatetypes.Blocking(
				"structured_report.missing_report",
				fmt.Sprintf("tool=%s: required report is missing: %s", tool.ID, reportPath),
				gatetypes.StrPtr(reportPath), nil,
			)}, nil, nil
		}
		return nil, nil, nil
	}

	raw, readErr := os.ReadFile(reportPath)
	if readErr != nil {
		return []gatetypes.Finding{gatetypes.Blocking(
			"structured_report.read_failed",
			fmt.Sprintf("tool=%s: failed to read report: %v", tool.ID, readErr),
			gatetypes.StrPtr(reportPath), nil,
		)}, nil, nil
	}

	reportSha := sha256Hex(raw)
	if cfg.ExpectedSha256 != "" && !strings.EqualFold(cfg.ExpectedSha256, reportSha) {
		return []gatetypes.Finding{gatetypes.Blocking(
			"structured_report.sha256_mismatch",
			fmt.Sprintf("tool=%s: report sha256 mismatch (expected=%s, got=%s)", tool.ID, cfg.ExpectedSha256, reportSha),
			gatetypes.StrPtr(reportPath), nil,
		)}, nil, nil
	}

	parsed, parseErr := parseReport(tool.ID, raw, cfg.Format, cfg.CommitFieldPointer)
	if parseErr != nil {
		return []gatetypes.Finding{gatetypes.Blocking(
			"structured_report.parse_failed",
			fmt.Sprintf("tool=%s: %v", tool.ID, parseErr),
			gatetypes.StrPtr(reportPath), nil,
		)}, nil, nil
	}

	var findings []gatetypes.Finding

	if cfg.ExpectedVersion != "" {
		switch {
		case parsed.version == "":
			findings = append(findings, gatetypes.Blocking(
				"structured_report.version_missing",
				fmt.Sprintf("tool=%s: report version is missing", tool.ID),
				gatetypes.StrPtr(reportPath), nil,
			))
		case parsed.version != cfg.ExpectedVersion:
			findings = append(findings, gatetypes.Blocking(
				"structured_report.version_mismatch",
				fmt.Sprintf("tool=%s: report version mismatch (expected=%s, got=%s)", tool.ID, cfg.ExpectedVersion, parsed.version),
				gatetypes.StrPtr(reportPath), nil,
			))
		}
	}

	if cfg.CommitFieldPointer != "" {
		if parsed.commitSHA == "" {
			findings = append(findings, gatetypes.Blocking(
				"structured_report.commit_field_missing",
				fmt.Sprintf("tool=%s: commit field %q is missing", tool.ID, cfg.CommitFieldPointer),
				gatetypes.StrPtr(reportPath), nil,
			))
		} else if headSHA, ok := currentHeadSHA(repoRoot); !ok {
			findings = append(findings, gatetypes.Blocking(
				"structured_report.commit_unavailable",
				fmt.Sprintf("tool=%s: unable to read repository HEAD", tool.ID),
				gatetypes.StrPtr(reportPath), nil,
			))
		} else if headSHA != parsed.commitSHA {
			findings = append(findings, gatetypes.Blocking(
				"structured_report.commit_mismatch",
				fmt.Sprintf("tool=%s: report commit mismatch (expected=%s, got=%s)", tool.ID, headSHA, parsed.commitSHA),
				gatetypes.StrPtr(reportPath), nil,
			))
		}
	}

	for _, pf := range parsed.findings {
		if strings.TrimSpace(pf.code) == "" {
			findings = append(findings, gatetypes.Blocking(
				"structured_report.invalid_finding_code",
				fmt.Sprintf("tool=%s: finding code is empty", tool.ID),
				gatetypes.StrPtr(reportPath), nil,
			))
			continue
		}

		severity, ok := canonicalSeverity(cfg.SeverityMap, pf.severityRaw)
		if !ok {
			findings = append(findings, gatetypes.Blocking(
				"structured_report.invalid_severity",
				fmt.Sprintf("tool=%s: unknown severity %q for code %s", tool.ID, pf.severityRaw, pf.code),
				gatetypes.StrPtr(reportPath), map[string]interface{}{"raw_severity": pf.severityRaw},
			))
			continue
		}

		category := pf.category
		if category == "" {
			category = "general"
		}

		var path *string
		if pf.path != "" {
			path = gatetypes.StrPtr(pf.path)
		}

		details := map[string]interface{}{
			"tool_id":      tool.ID,
			"severity":     severity,
			"category":     category,
			"message":      pf.message,
			"evidence_ref": pf.evidenceRef,
		}
		if pf.line != nil {
			details["line"] = *pf.line
		}

		if severity == "critical" || severity == "high" {
			findings = append(findings, gatetypes.Blocking(pf.code, pf.message, path, details))
		} else {
			findings = append(findings, gatetypes.Observation(pf.code, pf.message, path, details))
		}
	}

	evidence := map[string]interface{}{
		"report_path":       reportPath,
		"report_sha256":     reportSha,
		"report_version":    parsed.version,
		"report_commit_sha": parsed.commitSHA,
		"finding_count":     len(parsed.findings),
	}

	return findings, evidence, nil
}

func canonicalSeverity(severityMap map[string]string, raw string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	for native, canonical := range severityMap {
		if strings.EqualFold(native, raw) {
			return strings.ToLower(canonical), true
		}
	}
	switch lowered {
	case "critical":
		return "critical", true
	case "high", "error", "fatal", "failure":
		return "high", true
	case "medium", "warning", "warn":
		return "medium", true
	case "low", "info", "note", "minor":
		return "low", true
	default:
		return "", false
	}
}

func currentHeadSHA(repoRoot string) (string, bool) {
	cmd := exec.Command("git", "rev-parse", "--verify", "HEAD")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	sha := strings.TrimSpace(string(out))
	return sha, sha != ""
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func parseReport(toolID string, raw []byte, format config.StructuredReportFormat, commitFieldPointer string) (parsedReport, error) {
	switch format {
	case config.ReportFormatJUnit:
		return parseJUnitReport(toolID, string(raw))
	case config.ReportFormatSARIF:
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return parsedReport{}, fmt.Errorf("invalid SARIF report: %w", err)
		}
		return parseSARIFReport(toolID, v)
	case config.ReportFormatJSON, "":
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return parsedReport{}, fmt.Errorf("invalid JSON report: %w", err)
		}
		return parseJSONReport(toolID, v, commitFieldPointer)
	default: // auto
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '<' {
			return parseJUnitReport(toolID, string(raw))
		}
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return parsedReport{}, fmt.Errorf("failed to parse auto report as JSON: %w", err)
		}
		if obj, ok := v.(map[string]interface{}); ok {
			if _, hasRuns := obj["runs"]; hasRuns {
				return parseSARIFReport(toolID, v)
			}
		}
		return parseJSONReport(toolID, v, commitFieldPointer)
	}
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asArray(v interface{}) ([]interface{}, bool) {
	a, ok := v.([]interface{})
	return a, ok
}

func textField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstText(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := textField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func lineField(m map[string]interface{}, keys ...string) *int64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			i := int64(n)
			return &i
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func messageField(m map[string]interface{}) string {
	for _, key := range []string{"message", "msg", "text"} {
		if s := textField(m, key); s != "" {
			return s
		}
	}
	if nested, ok := asObject(m["message"]); ok {
		if s := textField(nested, "text"); s != "" {
			return s
		}
	}
	return "<empty message>"
}

func findJSONPath(root interface{}, dottedPath string) interface{} {
	current := root
	for _, part := range strings.Split(dottedPath, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		obj, ok := asObject(current)
		if !ok {
			return nil
		}
		next, ok := obj[part]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func parseJSONReport(toolID string, payload interface{}, commitFieldPointer string) (parsedReport, error) {
	if err := jsonReportSchema.Validate(payload); err != nil {
		return parsedReport{}, fmt.Errorf("report root must carry a findings or results array: %w", err)
	}
	obj, _ := asObject(payload)

	var commitSHA string
	if commitFieldPointer != "" {
		if s, ok := findJSONPath(payload, commitFieldPointer).(string); ok {
			commitSHA = strings.TrimSpace(s)
		}
	}

	rawList, ok := obj["findings"]
	if !ok {
		rawList = obj["results"]
	}
	items, _ := asArray(rawList)
	if len(items) == 0 {
		return parsedReport{}, fmt.Errorf("report has no findings")
	}

	var findings []parsedFinding
	for _, item := range items {
		m, ok := asObject(item)
		if !ok {
			continue
		}
		path := firstText(m, "path", "file")
		if path == "" {
			if loc, ok := asObject(m["location"]); ok {
				path = textField(loc, "path")
			} else {
				path = textField(m, "location")
			}
		}
		severity := firstText(m, "severity", "level", "priority", "impact")
		if severity == "" {
			severity = "medium"
		}
		findings = append(findings, parsedFinding{
			code:        firstText(m, "code", "id", "rule_id", "ruleId", "name", "check_name"),
			category:    firstText(m, "category", "group", "family", "check_type"),
			message:     messageField(m),
			path:        path,
			line:        lineField(m, "line", "start_line", "startLine"),
			severityRaw: severity,
			evidenceRef: firstText(m, "evidence_ref", "url", "uri"),
		})
	}

	version := textField(obj, "version")
	return parsedReport{findings: findings, version: version, commitSHA: commitSHA}, nil
}

func parseSARIFReport(toolID string, payload interface{}) (parsedReport, error) {
	obj, ok := asObject(payload)
	if !ok {
		return parsedReport{}, fmt.Errorf("SARIF report root must be an object")
	}
	runs, ok := asArray(obj["runs"])
	if !ok {
		return parsedReport{}, fmt.Errorf("missing runs array")
	}

	var findings []parsedFinding
	for _, runV := range runs {
		run, ok := asObject(runV)
		if !ok {
			continue
		}
		var toolName string
		if toolObj, ok := asObject(run["tool"]); ok {
			if driver, ok := asObject(toolObj["driver"]); ok {
				toolName = textField(driver, "name")
			}
		}

		results, _ := asArray(run["results"])
		for _, resultV := range results {
			result, ok := asObject(resultV)
			if !ok {
				continue
			}
			var path string
			var line *int64
			if locs, ok := asArray(result["locations"]); ok && len(locs) > 0 {
				if loc, ok := asObject(locs[0]); ok {
					if pl, ok := asObject(loc["physicalLocation"]); ok {
						if al, ok := asObject(pl["artifactLocation"]); ok {
							path = textField(al, "uri")
						}
						if region, ok := asObject(pl["region"]); ok {
							line = lineField(region, "startLine")
						}
					}
				}
			}
			category := firstText(result, "category")
			if category == "" {
				category = toolName
			}
			severity := firstText(result, "level", "severity")
			if severity == "" {
				severity = "medium"
			}
			findings = append(findings, parsedFinding{
				code:        firstText(result, "ruleId", "rule_id", "id"),
				category:    category,
				message:     messageField(result),
				path:        path,
				line:        line,
				severityRaw: severity,
			})
		}
	}
	if len(findings) == 0 {
		return parsedReport{}, fmt.Errorf("SARIF report has no findings")
	}

	version := textField(obj, "version")
	if version == "" {
		version = textField(obj, "$schema")
	}
	return parsedReport{findings: findings, version: version}, nil
}

// junitTestcase/junitFailure mirror the subset of the JUnit XML schema
// this ingester reads: a list of testcases, each optionally carrying a
// failure or error child element.
type junitTestsuites struct {
	Testcases []junitTestcase `xml:"testsuite>testcase"`
	Direct    []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	File      string        `xml:"file,attr"`
	Line      string        `xml:"line,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

func parseJUnitReport(toolID, input string) (parsedReport, error) {
	var suites junitTestsuites
	if err := xml.Unmarshal([]byte(input), &suites); err != nil {
		return parsedReport{}, fmt.Errorf("invalid junit report: %w", err)
	}
	cases := suites.Testcases
	cases = append(cases, suites.Direct...)

	var findings []parsedFinding
	for _, tc := range cases {
		event := tc.Failure
		severity := "failure"
		if event == nil {
			event = tc.Error
			severity = "error"
		}
		if event == nil {
			continue
		}

		code := tc.Name
		if code == "" {
			code = "testcase"
		}
		if tc.ClassName != "" {
			code = fmt.Sprintf("%s.%s", tc.ClassName, code)
		}

		message := strings.TrimSpace(event.Message)
		if message == "" {
			message = strings.TrimSpace(event.Body)
		}
		if message == "" {
			message = "JUnit failure"
		}

		path := tc.File
		if path == "" {
			path = tc.ClassName
		}

		var line *int64
		if tc.Line != "" {
			if n, err := strconv.ParseInt(tc.Line, 10, 64); err == nil {
				line = &n
			}
		}

		findings = append(findings, parsedFinding{
			code:        code,
			category:    "test",
			message:     message,
			path:         path,
			line:        line,
			severityRaw: severity,
		})
	}

	if len(findings) == 0 {
		return parsedReport{}, fmt.Errorf("junit report has no failures")
	}
	return parsedReport{findings: findings}, nil
}

