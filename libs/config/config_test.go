package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTypedGetters(t *testing.T) {
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_BAD_INT", "nope")
	t.Setenv("CFG_BOOL", "yes")
	t.Setenv("CFG_SECONDS", "90")
	t.Setenv("CFG_LIST", " a, ,b ,c")

	if got := Int("CFG_INT", 1); got != 42 {
		t.Fatalf("Int = %d, want 42", got)
	}
	if got := Int("CFG_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback = %d, want 7", got)
	}
	if !Bool("CFG_BOOL", false) {
		t.Fatal("Bool = false, want true")
	}
	if Bool("CFG_UNSET_BOOL", false) {
		t.Fatal("Bool fallback = true, want false")
	}
	if got := Seconds("CFG_SECONDS", time.Second); got != 90*time.Second {
		t.Fatalf("Seconds = %s, want 90s", got)
	}
	list := List("CFG_LIST")
	if len(list) != 3 || list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Fatalf("List = %v", list)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("CFG_PORT", "70000")
	if _, err := Port("CFG_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
	if p, err := Port("CFG_PORT_UNSET", "8080"); err != nil || p != "8080" {
		t.Fatalf("Port fallback = %q, %v", p, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFG_DOTENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CFG_DOTENV_VALUE", "")
	os.Unsetenv("CFG_DOTENV_VALUE")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := String("CFG_DOTENV_VALUE", ""); got != "from-file" {
		t.Fatalf("String = %q, want from-file", got)
	}
}
