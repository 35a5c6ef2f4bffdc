package main

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/camo-age-screener/internal/config"
	"github.com/menta2k/camo-age-screener/internal/logging"
)

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// parseFlags parses args and merges the configuration without running the command
func parseFlags(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	f := &cliFlags{}
	cmd := newCommand(f)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	return loadConfig(cmd, *f)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := "models:\n  backend: ollama\noutput:\n  flush_every: 3\n  sync: true\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SCREENER_FLUSH_EVERY", "5")
	t.Setenv("SCREENER_OUTPUT", "/from/env")

	cfg, err := parseFlags(t,
		"--config", cfgFile,
		"--env-file", filepath.Join(dir, "missing.env"),
		"-d", "/from/flag",
		"--flush-every", "7",
	)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.Models.Backend != config.BackendOllama {
		t.Errorf("Expected backend from file, got %q", cfg.Models.Backend)
	}
	if !cfg.Output.Sync {
		t.Error("Expected sync from file")
	}
	if cfg.Output.Dir != "/from/env" {
		t.Errorf("Expected output from env, got %q", cfg.Output.Dir)
	}
	if cfg.Output.FlushEvery != 7 {
		t.Errorf("Expected flag to win over env and file, got %d", cfg.Output.FlushEvery)
	}
	if cfg.Dataset.Dir != "/from/flag" {
		t.Errorf("Expected dataset from flag, got %q", cfg.Dataset.Dir)
	}
}

func TestLoadConfigRequiresDirectories(t *testing.T) {
	missingEnv := filepath.Join(t.TempDir(), "missing.env")

	if _, err := parseFlags(t, "--env-file", missingEnv, "-o", "out"); err == nil || !strings.Contains(err.Error(), "--dataset") {
		t.Errorf("Expected missing dataset error, got %v", err)
	}
	if _, err := parseFlags(t, "--env-file", missingEnv, "-d", "in"); err == nil || !strings.Contains(err.Error(), "--output") {
		t.Errorf("Expected missing output error, got %v", err)
	}
	if _, err := parseFlags(t, "--env-file", missingEnv, "-d", "in", "-o", "out", "--backend", "tflite"); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestRunWithLlamaCppBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		answer := `{"label": "camouflage_clothes", "probability": 0.83}`
		if strings.Contains(req.Messages[0].Content[0].Text, "face locator") {
			answer = `{"faces": [{"box": {"x": 0.25, "y": 0.25, "w": 0.5, "h": 0.5}, "age": "(25-32)", "probability": 0.75}]}`
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": answer}}},
		})
	}))
	defer server.Close()

	dataset := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	img := filepath.Join(dataset, "a.png")
	writePNG(t, img, 64, 48)
	if err := os.WriteFile(filepath.Join(dataset, "broken.jpg"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--dataset", dataset,
		"--output", output,
		"--backend", "llamacpp",
		"--url", server.URL,
		"--log-level", "error",
	})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	ages, err := os.ReadFile(filepath.Join(output, "ages.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if want := img + ",16,12,48,36,(25-32),0.75\n"; string(ages) != want {
		t.Errorf("ages.csv:\n got %q\nwant %q", ages, want)
	}

	camo, err := os.ReadFile(filepath.Join(output, "camo.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if want := img + ",0.83\n"; string(camo) != want {
		t.Errorf("camo.csv:\n got %q\nwant %q", camo, want)
	}
}

func TestRunFailsOnMissingDataset(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out")

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--dataset", filepath.Join(t.TempDir(), "missing"),
		"--output", output,
		"--log-level", "error",
	})

	err := cmd.ExecuteContext(context.Background())
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "open" {
		t.Fatalf("Expected open OperationError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Error("Output directory should not be created for a missing dataset")
	}
}

func TestRunFailsOnMissingModels(t *testing.T) {
	dataset := t.TempDir()
	output := t.TempDir()
	modelDir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--dataset", dataset,
		"--output", output,
		"--log-level", "error",
	})
	t.Setenv("SCREENER_FACE_WEIGHTS", filepath.Join(modelDir, "missing.caffemodel"))

	err := cmd.ExecuteContext(context.Background())
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "load_models" {
		t.Fatalf("Expected load_models OperationError, got %v", err)
	}

	// Sinks are opened before models are loaded
	for _, name := range []string{"ages.csv", "camo.csv"} {
		if _, statErr := os.Stat(filepath.Join(output, name)); statErr != nil {
			t.Errorf("%s should exist: %v", name, statErr)
		}
	}
}

func TestLoadModelsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Models.Backend = "tflite"
	if _, err := loadModels(cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
