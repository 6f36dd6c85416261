package cli

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	// internal/cli -> repo root
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func goExe() string {
	if runtime.GOOS == "windows" {
		return "go.exe"
	}
	return "go"
}

func buildBinary(t *testing.T) string {
	t.Helper()

	outPath := filepath.Join(t.TempDir(), "scanwarden-test")
	if runtime.GOOS == "windows" {
		outPath += ".exe"
	}

	cmd := exec.Command(goExe(), "build", "-o", outPath, "./cmd/scanwarden")
	cmd.Dir = repoRoot(t)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build scanwarden binary: %v; output=%s", err, string(out))
	}

	return outPath
}

func runBinary(t *testing.T, binary string, env []string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v; output=%s", err, err, string(out))
	}
	return string(out), exitErr.ProcessState.ExitCode()
}

func TestScan_ExitCode3_WhenInventoryMissing(t *testing.T) {
	binary := buildBinary(t)
	out, code := runBinary(t, binary, nil, "scan", "--source", "inventory", "--no-store")

	if code != 3 {
		t.Fatalf("expected exit code 3, got %d; output=%s", code, out)
	}
	if !strings.Contains(out, "--inventory is required") {
		t.Fatalf("expected validation message; output=%s", out)
	}
}

func TestScan_ExitCode3_WhenOutFormatCannotBeInferred(t *testing.T) {
	binary := buildBinary(t)
	out, code := runBinary(t, binary, nil, "scan", "--path", t.TempDir(), "--no-store", "--out", "results.unknown")

	if code != 3 {
		t.Fatalf("expected exit code 3, got %d; output=%s", code, out)
	}
	if !strings.Contains(out, "cannot infer output format") {
		t.Fatalf("expected output format inference error; output=%s", out)
	}
}

func TestScan_ExitCodes_FollowFindings(t *testing.T) {
	binary := buildBinary(t)

	clean := t.TempDir()
	if err := os.WriteFile(filepath.Join(clean, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, code := runBinary(t, binary, nil, "scan", "--path", clean, "--no-store", "--pace", "0")
	if code != 0 {
		t.Fatalf("expected exit code 0 for a clean directory, got %d; output=%s", code, out)
	}

	dirty := t.TempDir()
	if err := os.WriteFile(filepath.Join(dirty, "wifi-hacker.sh"), []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	out, code = runBinary(t, binary, nil, "scan", "--path", dirty, "--no-store", "--pace", "0")
	if code != 1 {
		t.Fatalf("expected exit code 1 when threats are found, got %d; output=%s", code, out)
	}
	if !strings.Contains(out, "wifi-hacker.sh") {
		t.Fatalf("expected flagged artifact in console output; output=%s", out)
	}
}

func TestScan_ConfigFileAndEnvironment(t *testing.T) {
	binary := buildBinary(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "wifi-hacker.sh"), []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(t.TempDir(), "scanwarden.yaml")
	doc := "source:\n  paths: [" + dir + "]\nrun:\n  pace: 0s\nstore:\n  disabled: true\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	// The allow-list from the environment exempts the only suspicious file.
	out, code := runBinary(t, binary,
		[]string{"SCANWARDEN_CONFIG=" + cfgPath, "SCANWARDEN_RULES_ALLOW_IDENTIFIERS=wifi-hacker.sh"},
		"scan")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d; output=%s", code, out)
	}
}

func TestScan_Help_DocumentsOutputAndExitCodes(t *testing.T) {
	binary := buildBinary(t)
	out, code := runBinary(t, binary, nil, "scan", "--help")
	if code != 0 {
		t.Fatalf("expected zero exit; code=%d; output=%s", code, out)
	}

	// Regression guard: command help must document machine-readable output
	// and exit status semantics.
	required := []string{
		"Output:",
		"Exit codes:",
		"NDJSON mode emits",
		"scan.started",
		"threats.detected",
		"scan.completed",
		"scan.failed",
	}
	for _, r := range required {
		if !strings.Contains(out, r) {
			t.Fatalf("expected scan --help to contain %q; output=%s", r, out)
		}
	}
}
