package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imager/config"
	"imager/video/metadata"
)

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Dir = dir
	cfg.Name = "dry"
	cfg.Width, cfg.Height = 32, 16
	cfg.Duration = 100 * time.Millisecond
	cfg.Port = 0
	cfg.MinFree = ""
	return cfg
}

// runSession runs cfg and returns the path of the written container.
func runSession(t *testing.T, cfg config.Config) string {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), cfg, ""); err != nil {
		t.Fatalf("run() = %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(cfg.Dir, "*_dry.tif"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("containers written: %v", matches)
	}
	return matches[0]
}

func TestRunAndInspect(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Exposure = 0.01
	cfg.Stims = `{"led":"blue"}`
	tif := runSession(t, cfg)

	rec, err := metadata.ReadFile(strings.TrimSuffix(tif, ".tif") + ".json")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Framerate != 100 || rec.Exposure != 0.01 || rec.FramesWritten == 0 {
		t.Errorf("record = %+v", rec)
	}

	var out bytes.Buffer
	if err := inspect(&out, tif); err != nil {
		t.Fatalf("inspect() = %v", err)
	}
	for _, want := range []string{"frames:", "geometry: 32x16", `"source": "AwesomeImager"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("inspect output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_FramerateOnlyRecordsNoExposure(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Framerate = 50
	tif := runSession(t, cfg)

	sidecar := strings.TrimSuffix(tif, ".tif") + ".json"
	rec, err := metadata.ReadFile(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Framerate != 50 || rec.Exposure != 0 {
		t.Errorf("record framerate %v exposure %v, want 50 and none", rec.Framerate, rec.Exposure)
	}
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"exposure"`) {
		t.Errorf("sidecar records an exposure that was never set:\n%s", data)
	}
}
