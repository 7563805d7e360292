package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := Defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.Eye.Command = "python3 pupil.py"
	original.Eye.KnownMessages = []string{"connected", "calibrated"}
	original.Eye.StopGrace = Duration{500 * time.Millisecond}
	original.Breath.Command = "python3 amp.py"
	original.Breath.SampleRate = 25
	original.HTTP.Enabled = true
	original.HTTP.Token = "tok-round-trip"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.Eye.Command != original.Eye.Command {
		t.Errorf("Eye.Command mismatch: %v != %v", loaded.Eye.Command, original.Eye.Command)
	}
	if len(loaded.Eye.KnownMessages) != 2 || loaded.Eye.KnownMessages[1] != "calibrated" {
		t.Errorf("Eye.KnownMessages mismatch: %v", loaded.Eye.KnownMessages)
	}
	if loaded.Eye.StopGrace.Duration != 500*time.Millisecond {
		t.Errorf("Eye.StopGrace mismatch: %v", loaded.Eye.StopGrace)
	}
	if loaded.Breath.Command != original.Breath.Command {
		t.Errorf("Breath.Command mismatch: %v != %v", loaded.Breath.Command, original.Breath.Command)
	}
	if loaded.Breath.SampleRate != 25 {
		t.Errorf("Breath.SampleRate mismatch: %v", loaded.Breath.SampleRate)
	}
	if !loaded.HTTP.Enabled || loaded.HTTP.Token != original.HTTP.Token {
		t.Errorf("HTTP mismatch: %+v", loaded.HTTP)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Breath.SampleRate != 10 || cfg.Breath.WindowSeconds != 30 || cfg.Breath.EstimateEvery != 10 {
		t.Errorf("unexpected breath defaults: %+v", cfg.Breath)
	}
	if cfg.Eye.StopGrace.Duration != 2*time.Second {
		t.Errorf("expected 2s stop grace, got %v", cfg.Eye.StopGrace)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults should have been written: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	t.Setenv("BREATHLAB_DATA_DIR", "/env/data")
	t.Setenv("BREATHLAB_LOG_LEVEL", "warn")
	t.Setenv("BREATHLAB_EYE_COMMAND", "eye-env")
	t.Setenv("BREATHLAB_BREATH_COMMAND", "breath-env")
	t.Setenv("BREATHLAB_HTTP_TOKEN", "tok-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/env/data" || cfg.LogLevel != "warn" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.Eye.Command != "eye-env" || cfg.Breath.Command != "breath-env" {
		t.Errorf("sensor command overrides not applied: %q %q", cfg.Eye.Command, cfg.Breath.Command)
	}
	if cfg.HTTP.Token != "tok-env" {
		t.Errorf("token override not applied: %q", cfg.HTTP.Token)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDuration_AcceptsSeconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`1.5`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d.Duration)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only config.json in directory, got %d entries", len(entries))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")

	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.ResolvedProtocolPath(); got != "/data/protocol.yaml" {
		t.Errorf("expected default protocol path, got %s", got)
	}
	cfg.ProtocolPath = "/etc/breathlab/protocol.yaml"
	if got := cfg.ResolvedProtocolPath(); got != "/etc/breathlab/protocol.yaml" {
		t.Errorf("absolute path should be kept, got %s", got)
	}
	cfg.Archive.Path = "db/archive.sqlite"
	if got := cfg.ResolvedArchivePath(); got != "/data/db/archive.sqlite" {
		t.Errorf("relative archive path should join data dir, got %s", got)
	}
}

func TestSensorConfig_Bridge(t *testing.T) {
	cfg := Defaults()
	cfg.Eye.Command = "./pupil"
	bc := cfg.Eye.Bridge("eye")
	if bc.Name != "eye" || bc.Command != "./pupil" || bc.StopGrace != 2*time.Second {
		t.Errorf("unexpected bridge config: %+v", bc)
	}
	w := cfg.Window()
	if w.SampleRate != 10 || w.EstimateEvery != 10 {
		t.Errorf("unexpected window config: %+v", w)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{
		DataDir:  "/tmp/test",
		LogLevel: "debug",
	}
	cfg.Breath.Command = "./amp"
	cfg.Breath.EstimateEvery = 20

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}

	breath, ok := m["breath"].(map[string]any)
	if !ok {
		t.Fatalf("expected breath to be map, got %T", m["breath"])
	}
	// embedded sensor fields are promoted into the breath object
	if breath["command"] != "./amp" {
		t.Errorf("expected breath.command=./amp, got %v", breath["command"])
	}
	// JSON numbers are float64
	if breath["estimate_every"] != float64(20) {
		t.Errorf("expected breath.estimate_every=20, got %v", breath["estimate_every"])
	}
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.HTTP.Token = "secret-token-abcd"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if plain["http.token"] != "secret-token-abcd" {
		t.Errorf("expected unmasked http.token, got %v", plain["http.token"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if masked["http.token"] != "***abcd" {
		t.Errorf("expected masked http.token=***abcd, got %v", masked["http.token"])
	}
	if masked["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", masked["log_level"])
	}
	if masked["eye.stop_grace"] != "0s" {
		t.Errorf("expected eye.stop_grace=0s, got %v", masked["eye.stop_grace"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := Defaults()
	cfg.LogLevel = "debug"
	cfg.Eye.Command = "./pupil"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "eye.command")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "./pupil" {
		t.Errorf("expected eye.command=./pupil, got %v", v)
	}

	v, err = GetValue(path, "breath.estimate_every")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(10) {
		t.Errorf("expected breath.estimate_every=10, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	path := tempConfigPath(t)

	// Load creates the file with defaults
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  any
	}{
		{"string", "log_level", "debug", "debug"},
		{"numeric", "breath.estimate_every", "16", float64(16)},
		{"float", "breath.sample_rate", "12.5", 12.5},
		{"boolean", "http.enabled", "true", true},
		{"duration", "eye.stop_grace", "750ms", "750ms"},
		{"new nested key", "custom.setting", "value", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempConfigPath(t)
			cfg := Defaults()
			cfg.Eye.Command = "./pupil"
			writeTestConfig(t, path, cfg)

			if err := SetValue(path, tt.key, tt.value); err != nil {
				t.Fatalf("SetValue failed: %v", err)
			}
			v, err := GetValue(path, tt.key)
			if err != nil {
				t.Fatalf("GetValue failed: %v", err)
			}
			if v != tt.want {
				t.Errorf("expected %s=%v, got %v (%T)", tt.key, tt.want, v, v)
			}

			// other values are preserved
			v, err = GetValue(path, "eye.command")
			if err != nil {
				t.Fatalf("GetValue failed: %v", err)
			}
			if v != "./pupil" {
				t.Errorf("expected eye.command preserved, got %v", v)
			}
		})
	}
}

func TestSetValue_List(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "eye.known_messages", `["connected","calibrated"]`); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Eye.KnownMessages) != 2 || cfg.Eye.KnownMessages[1] != "calibrated" {
		t.Errorf("unexpected known messages: %v", cfg.Eye.KnownMessages)
	}
}

func TestSetValue_RejectsMistypedValue(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "breath.sample_rate", "fast"); err == nil {
		t.Fatal("expected error for a string sample rate")
	}
	v, err := GetValue(path, "breath.sample_rate")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(10) {
		t.Errorf("file should be unchanged, got %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}
