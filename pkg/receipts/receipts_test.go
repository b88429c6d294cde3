package receipts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

func writeReport(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writeReport: %v", err)
	}
	return path
}

func tool(path string, required bool, format config.StructuredReportFormat) config.ProjectTool {
	return config.ProjectTool{
		ID: "lint",
		StructuredReport: &config.StructuredReportContract{
			Path:     path,
			Required: required,
			Format:   format,
		},
	}
}

func TestIngest_NoContractReturnsNothing(t *testing.T) {
	findings, evidence, err := Ingest(t.TempDir(), config.ProjectTool{ID: "x"}, gatetypes.Receipt{})
	if err != nil || findings != nil || evidence != nil {
		t.Fatalf("expected no-op for a tool without a structured_report contract, got findings=%v evidence=%v err=%v", findings, evidence, err)
	}
}

func TestIngest_MissingRequiredReportBlocks(t *testing.T) {
	dir := t.TempDir()
	findings, _, err := Ingest(dir, tool("report.json", true, config.ReportFormatJSON), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "structured_report.missing_report" {
		t.Fatalf("expected a single missing_report finding, got %+v", findings)
	}
	if findings[0].Tier != gatetypes.TierBlocking {
		t.Fatalf("expected blocking tier, got %v", findings[0].Tier)
	}
}

func TestIngest_MissingOptionalReportIsSilent(t *testing.T) {
	dir := t.TempDir()
	findings, evidence, err := Ingest(dir, tool("report.json", false, config.ReportFormatJSON), gatetypes.Receipt{})
	if err != nil || findings != nil || evidence != nil {
		t.Fatalf("expected silence for a missing optional report, got findings=%v evidence=%v err=%v", findings, evidence, err)
	}
}

func TestIngest_JSONReportParsesFindingsWithSeverityTiering(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{
		"version": "1.0",
		"findings": [
			{"code": "lint.unused_import", "severity": "high", "path": "a.go", "line": 3, "message": "unused import"},
			{"code": "lint.style_nit", "severity": "low", "path": "b.go", "message": "style nit"}
		]
	}`)

	findings, evidence, err := Ingest(dir, tool("report.json", true, config.ReportFormatJSON), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d: %+v", len(findings), findings)
	}
	if findings[0].Code != "lint.unused_import" || findings[0].Tier != gatetypes.TierBlocking {
		t.Fatalf("expected high severity finding to be blocking, got %+v", findings[0])
	}
	if findings[1].Code != "lint.style_nit" || findings[1].Tier != gatetypes.TierObservation {
		t.Fatalf("expected low severity finding to be observation, got %+v", findings[1])
	}
	if evidence["report_version"] != "1.0" || evidence["finding_count"] != 2 {
		t.Fatalf("expected evidence to reflect the parsed report, got %+v", evidence)
	}
}

func TestIngest_ExpectedVersionMismatchBlocks(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"version": "1.0", "findings": [{"code": "x", "severity": "low", "message": "m"}]}`)

	tl := tool("report.json", true, config.ReportFormatJSON)
	tl.StructuredReport.ExpectedVersion = "2.0"

	findings, _, err := Ingest(dir, tl, gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawMismatch bool
	for _, f := range findings {
		if f.Code == "structured_report.version_mismatch" {
			sawMismatch = true
		}
	}
	if !sawMismatch {
		t.Fatalf("expected a version_mismatch finding, got %+v", findings)
	}
}

func TestIngest_ExpectedSha256MismatchBlocksBeforeParsing(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"findings": [{"code": "x", "severity": "low", "message": "m"}]}`)

	tl := tool("report.json", true, config.ReportFormatJSON)
	tl.StructuredReport.ExpectedSha256 = "0000000000000000000000000000000000000000000000000000000000000000"

	findings, evidence, err := Ingest(dir, tl, gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "structured_report.sha256_mismatch" {
		t.Fatalf("expected a single sha256_mismatch finding, got %+v", findings)
	}
	if evidence != nil {
		t.Fatalf("expected no evidence when sha256 mismatches, got %+v", evidence)
	}
}

func TestIngest_EmptyReportFindingsArrayIsAParseFailure(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"findings": []}`)

	findings, _, err := Ingest(dir, tool("report.json", true, config.ReportFormatJSON), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "structured_report.parse_failed" {
		t.Fatalf("expected a parse_failed finding for an empty findings array, got %+v", findings)
	}
}

func TestIngest_UnrecognizedSeverityProducesInvalidSeverityFinding(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"findings": [{"code": "x", "severity": "apocalyptic", "message": "m"}]}`)

	findings, _, err := Ingest(dir, tool("report.json", true, config.ReportFormatJSON), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "structured_report.invalid_severity" {
		t.Fatalf("expected a single invalid_severity finding, got %+v", findings)
	}
}

func TestIngest_SeverityMapOverridesDefaultTable(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"findings": [{"code": "x", "severity": "blocker", "message": "m"}]}`)

	tl := tool("report.json", true, config.ReportFormatJSON)
	tl.StructuredReport.SeverityMap = map[string]string{"blocker": "critical"}

	findings, _, err := Ingest(dir, tl, gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Tier != gatetypes.TierBlocking {
		t.Fatalf("expected the mapped 'blocker' severity to resolve to a blocking finding, got %+v", findings)
	}
}

func TestIngest_SARIFReportParsesRuleIDAndLocation(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.sarif", `{
		"version": "2.1.0",
		"runs": [{
			"tool": {"driver": {"name": "semgrep"}},
			"results": [{
				"ruleId": "go.lang.security.audit.sqli",
				"level": "error",
				"message": {"text": "possible sql injection"},
				"locations": [{"physicalLocation": {"artifactLocation": {"uri": "db.go"}, "region": {"startLine": 42}}}]
			}]
		}]
	}`)

	findings, _, err := Ingest(dir, tool("report.sarif", true, config.ReportFormatSARIF), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %+v", findings)
	}
	f := findings[0]
	if f.Code != "go.lang.security.audit.sqli" || f.Path == nil || *f.Path != "db.go" {
		t.Fatalf("expected SARIF location to populate code/path, got %+v", f)
	}
	if f.Tier != gatetypes.TierBlocking {
		t.Fatalf("expected 'error' level to map to blocking, got %v", f.Tier)
	}
}

func TestIngest_JUnitReportParsesFailuresOnly(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.xml", `<?xml version="1.0"?>
<testsuite>
  <testcase classname="pkg.Foo" name="TestBar" file="foo_test.go" line="12">
    <failure message="assertion failed">expected 1, got 2</failure>
  </testcase>
  <testcase classname="pkg.Foo" name="TestBaz"></testcase>
</testsuite>`)

	findings, _, err := Ingest(dir, tool("report.xml", true, config.ReportFormatJUnit), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "pkg.Foo.TestBar" {
		t.Fatalf("expected exactly one failing testcase to surface, got %+v", findings)
	}
	if findings[0].Tier != gatetypes.TierBlocking {
		t.Fatalf("expected a test failure to map to blocking severity, got %v", findings[0].Tier)
	}
}

func TestIngest_AutoFormatDetectsJUnitByLeadingAngleBracket(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.xml", `<testsuite><testcase name="T" classname="C"><error message="boom"/></testcase></testsuite>`)

	findings, _, err := Ingest(dir, tool("report.xml", true, config.ReportFormatAuto), gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Code != "C.T" {
		t.Fatalf("expected auto-detection to parse as junit, got %+v", findings)
	}
}

func TestIngest_CommitFieldMismatchBlocks(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "report.json", `{"commit": "deadbeef", "findings": [{"code": "x", "severity": "low", "message": "m"}]}`)

	tl := tool("report.json", true, config.ReportFormatJSON)
	tl.StructuredReport.CommitFieldPointer = "commit"

	findings, _, err := Ingest(dir, tl, gatetypes.Receipt{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawCommitFinding bool
	for _, f := range findings {
		if f.Code == "structured_report.commit_mismatch" || f.Code == "structured_report.commit_unavailable" {
			sawCommitFinding = true
		}
	}
	if !sawCommitFinding {
		t.Fatalf("expected a commit-related finding outside a git repository, got %+v", findings)
	}
}
