package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCredentialsFile_Formats(t *testing.T) {
	files := map[string]string{
		"creds.json": `{"username":"jdoe","password":"pw"}`,
		"creds.toml": "username = \"jdoe\"\npassword = \"pw\"\n",
		"creds.yaml": "username: jdoe\npassword: pw\n",
		"creds.YML":  "username: jdoe\npassword: pw\n",
	}
	for name, content := range files {
		creds, err := LoadCredentialsFile(writeFile(t, name, content))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if creds != (Credentials{Username: "jdoe", Password: "pw"}) {
			t.Fatalf("%s: unexpected credentials %+v", name, creds)
		}
	}
}

func TestLoadCredentialsFile_Errors(t *testing.T) {
	if _, err := LoadCredentialsFile(writeFile(t, "creds.ini", "username=jdoe")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := LoadCredentialsFile(writeFile(t, "creds.json", "{")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := LoadCredentialsFile(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestResolveCredentials_Precedence(t *testing.T) {
	file := writeFile(t, "creds.json", `{"username":"file-user","password":"file-pw"}`)

	cases := []struct {
		name  string
		flags Credentials
		cfg   Config
		want  Credentials
	}{
		{"flags win", Credentials{"flag-user", "flag-pw"}, Config{Username: "env-user", Password: "env-pw"}, Credentials{"flag-user", "flag-pw"}},
		{"env over file", Credentials{}, Config{Username: "env-user", Password: "env-pw"}, Credentials{"env-user", "env-pw"}},
		{"file fills gaps", Credentials{Username: "flag-user"}, Config{}, Credentials{"flag-user", "file-pw"}},
		{"file only", Credentials{}, Config{}, Credentials{"file-user", "file-pw"}},
	}
	for _, tc := range cases {
		got, err := ResolveCredentials(tc.flags, tc.cfg, file)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestResolveCredentials_FileNotReadWhenComplete(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	if _, err := ResolveCredentials(Credentials{"u", "p"}, Config{}, missing); err != nil {
		t.Fatalf("expected file to be skipped, got %v", err)
	}
}

func TestResolveCredentials_Missing(t *testing.T) {
	_, err := ResolveCredentials(Credentials{Username: "jdoe"}, Config{}, "")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if !strings.Contains(err.Error(), "password") {
		t.Fatalf("expected missing field named, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}

	t.Setenv("DROPMATES_PASSWORD", "already-set")
	path := writeFile(t, ".env", "DROPMATES_USERNAME=dotenv-user\nDROPMATES_PASSWORD=dotenv-pw\n")
	t.Cleanup(func() { os.Unsetenv("DROPMATES_USERNAME") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DROPMATES_USERNAME"); got != "dotenv-user" {
		t.Fatalf("expected dotenv-user, got %q", got)
	}
	if got := os.Getenv("DROPMATES_PASSWORD"); got != "already-set" {
		t.Fatalf("expected existing variable kept, got %q", got)
	}
}
