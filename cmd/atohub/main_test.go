package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
FOO_FROM_DOTENV=bar
ALREADY_SET=from-file

=bad-line
NOVALUE=
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("ALREADY_SET", "from-env")
	t.Setenv("FOO_FROM_DOTENV", "")
	os.Unsetenv("FOO_FROM_DOTENV")

	loadDotEnv(path)

	if got := os.Getenv("FOO_FROM_DOTENV"); got != "bar" {
		t.Fatalf("FOO_FROM_DOTENV = %q, want bar", got)
	}
	if got := os.Getenv("ALREADY_SET"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIsNoOp(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "absent.env"))
}
