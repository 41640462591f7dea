package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "dbbridge" {
		t.Errorf("Expected Use to be 'dbbridge', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "dbbridge version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	expected := "dbbridge version 1.0.0\n"
	if buf.String() != expected {
		t.Errorf("Expected version output %q, got %q", expected, buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	expectedCommands := []string{"version", "discover", "import", "clusters", "forward", "serve"}
	foundCommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestForwardSubcommands(t *testing.T) {
	expectedCommands := []string{"list", "get", "create", "reconnect", "stop"}
	foundCommands := make(map[string]bool)
	for _, cmd := range forwardCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected forward subcommand %s to be registered", expected)
		}
	}
}

func TestParseConnectionID(t *testing.T) {
	id, err := parseConnectionID("42")
	if err != nil {
		t.Fatalf("parseConnectionID returned error: %v", err)
	}
	if id != 42 {
		t.Errorf("expected 42, got %d", id)
	}

	for _, bad := range []string{"", "abc", "-1", "1.5"} {
		if _, err := parseConnectionID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
