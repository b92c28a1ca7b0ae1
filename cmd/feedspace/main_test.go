package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  backend: bolt
  database_path: "./graph.db"
similarity:
  workers: 4
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Similarity.Workers != 4 {
		t.Errorf("unexpected config: %+v %+v", cfg.Storage, cfg.Similarity)
	}
}

func TestReadTask(t *testing.T) {
	body := `{"embeddings":{"A":[1,0],"B":[0,1]},"newEmbeddings":{"C":[1,0]}}`
	task, err := readTask("-", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if got := task.Embeddings.Keys(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("current keys = %v", got)
	}
	if task.NewEmbeddings.Len() != 1 {
		t.Errorf("new embeddings = %d", task.NewEmbeddings.Len())
	}

	path := filepath.Join(t.TempDir(), "task.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readTask(path, nil); err != nil {
		t.Errorf("readTask(file): %v", err)
	}
	if _, err := readTask("-", strings.NewReader("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.JSON", "notes.txt", filepath.Join("sub", "c.json")} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("[]"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := collectFiles(dir, []string{".json"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.JSON"), filepath.Join(dir, "b.json"), filepath.Join(dir, "sub", "c.json")}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("collectFiles() = %v, want %v", files, want)
	}

	single := filepath.Join(dir, "notes.txt")
	files, err = collectFiles(single, []string{".json"})
	if err != nil || len(files) != 1 || files[0] != single {
		t.Errorf("a single file is taken as is, got %v, %v", files, err)
	}
	if _, err := collectFiles(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestInitializeComponents(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  backend: bolt
  database_path: "./graph.db"
  keyword_index_path: "./keyword"
metrics:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Storage == nil || c.KeywordIndex == nil || c.Prometheus == nil || c.Service == nil {
		t.Fatalf("components not wired: %+v", c)
	}
	if c.Pool.Size() != 1 {
		t.Errorf("pool size = %d", c.Pool.Size())
	}
}
