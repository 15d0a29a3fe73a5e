package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/somnus/internal/types"
)

// cliEnv points the CLI at a fresh database in dev mode with the offline
// predictor.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SOMNUS_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("SOMNUS_DB_PATH", filepath.Join(dir, "somnus.db"))
	t.Setenv("SOMNUS_STORAGE_BACKEND", "sqlite")
	t.Setenv("SOMNUS_DEV_MODE", "true")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SOMNUS_API_KEY", "")
	t.Setenv("SOMNUS_BACKUP_BUCKET", "")
	return dir
}

// executeCmd runs rootCmd with captured output.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Cobra parses into package-level variables; reset them between runs.
	forecastDate = ""
	forecastJSONOutput = false
	reportDays = 30
	reportJSONOutput = false
	backupDir = ""

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func TestForecastCmd_JSONIsIdempotentPerDate(t *testing.T) {
	cliEnv(t)

	stdout, stderr, err := executeCmd(t, "forecast", "u1", "--date", "2026-03-14", "--json")
	if err != nil {
		t.Fatalf("forecast failed: %v\nstderr: %s", err, stderr)
	}

	var first types.Forecast
	if err := json.Unmarshal([]byte(stdout), &first); err != nil {
		t.Fatalf("output is not a forecast: %v\n%s", err, stdout)
	}
	if first.ID == "" {
		t.Error("forecast ID is empty")
	}
	if first.UserID != "u1" || first.Date != "2026-03-14" {
		t.Errorf("forecast = %s/%s, want u1/2026-03-14", first.UserID, first.Date)
	}
	if first.Prediction.ConfidencePercent != 23 {
		t.Errorf("confidence = %d, want cold-start 23", first.Prediction.ConfidencePercent)
	}

	stdout, _, err = executeCmd(t, "forecast", "u1", "--date", "2026-03-14", "--json")
	if err != nil {
		t.Fatalf("second forecast failed: %v", err)
	}
	var second types.Forecast
	if err := json.Unmarshal([]byte(stdout), &second); err != nil {
		t.Fatalf("second output is not a forecast: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second run ID = %s, want existing %s", second.ID, first.ID)
	}
}

func TestForecastCmd_TextOutput(t *testing.T) {
	cliEnv(t)

	stdout, _, err := executeCmd(t, "forecast", "u1", "--date", "2026-03-14")
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	for _, want := range []string{"Forecast:", "Date:         2026-03-14", "Confidence:   23%", "Suggestions:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestForecastCmd_Errors(t *testing.T) {
	cliEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing user", []string{"forecast"}, "accepts 1 arg"},
		{"bad date", []string{"forecast", "u1", "--date", "14/03/2026"}, "--date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCmd(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want containing %q", err, tt.want)
			}
		})
	}
}

func TestReportCmd_JSON(t *testing.T) {
	cliEnv(t)

	stdout, stderr, err := executeCmd(t, "report", "u1", "--days", "7", "--json")
	if err != nil {
		t.Fatalf("report failed: %v\nstderr: %s", err, stderr)
	}

	var r userReport
	if err := json.Unmarshal([]byte(stdout), &r); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, stdout)
	}
	if r.UserID != "u1" {
		t.Errorf("user_id = %q, want u1", r.UserID)
	}
	if r.Forecasts.Days != 7 {
		t.Errorf("forecasts.days = %d, want 7", r.Forecasts.Days)
	}
	if r.Forecasts.Review.Total != 0 {
		t.Errorf("review total = %d, want 0 for a new user", r.Forecasts.Review.Total)
	}
	if r.Alerts.Summary.HasAlert {
		t.Errorf("unexpected alert for a user without data: %+v", r.Alerts.Summary)
	}
	if r.Suggestion.Confidence != types.TierLow {
		t.Errorf("suggested goal confidence = %q, want low", r.Suggestion.Confidence)
	}
}

func TestReportCmd_TextTable(t *testing.T) {
	cliEnv(t)

	stdout, _, err := executeCmd(t, "report", "u1")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	for _, want := range []string{"User:", "Average accuracy:", "GOAL", "check-in days", "avg sleep (h)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestReportCmd_RejectsNonPositiveDays(t *testing.T) {
	cliEnv(t)

	_, _, err := executeCmd(t, "report", "u1", "--days", "0")
	if err == nil || !strings.Contains(err.Error(), "--days") {
		t.Errorf("err = %v, want --days error", err)
	}
}

func TestBackupCmd_LocalOnly(t *testing.T) {
	dir := cliEnv(t)
	target := filepath.Join(dir, "backups")

	stdout, stderr, err := executeCmd(t, "backup", "--dir", target)
	if err != nil {
		t.Fatalf("backup failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "Upload:   skipped") {
		t.Errorf("expected skipped upload, got:\n%s", stdout)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".db") {
		t.Errorf("backup dir entries = %v, want one .db file", entries)
	}
}
