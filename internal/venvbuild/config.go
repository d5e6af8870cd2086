package venvbuild

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Settings is the resolved configuration a Builder works with.
type Settings struct {
	TargetEnv   string
	SrcPath     string
	Jobs        int
	Shell       string
	LogDir      string
	CatalogFile string
	Mirror      MirrorSettings
}

// MirrorSettings locate an S3-compatible bucket holding source archives.
type MirrorSettings struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether a mirror bucket was configured.
func (m MirrorSettings) Enabled() bool {
	return m.Bucket != ""
}

// defaultConfigPath returns $XDG_CONFIG_HOME/venvbuild/venvbuild.conf.
func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "venvbuild", "venvbuild.conf")
}

// Load a KEY=value config file. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		debugf("No config file at %s\n", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		cfg.Values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge VENVBUILD_* env overrides
func mergeEnvOverrides(cfg *Config, environ []string) {
	for k, v := range envMap(environ) {
		if strings.HasPrefix(k, "VENVBUILD_") {
			cfg.Values[k] = v
		}
	}
}

// resolveSettings turns raw config values into Settings and applies the
// global debug switches.
func resolveSettings(cfg *Config) (*Settings, error) {
	v := cfg.Values

	Debug = v["VENVBUILD_DEBUG"] == "1"
	Verbose = Debug || v["VENVBUILD_VERBOSE"] == "1"

	s := &Settings{
		TargetEnv:   v["VENVBUILD_TARGET"],
		SrcPath:     v["VENVBUILD_SRCPATH"],
		Jobs:        defaultJobs,
		Shell:       v["VENVBUILD_SHELL"],
		LogDir:      v["VENVBUILD_LOG_DIR"],
		CatalogFile: v["VENVBUILD_CATALOG"],
		Mirror: MirrorSettings{
			Endpoint:        v["VENVBUILD_MIRROR_ENDPOINT"],
			Bucket:          v["VENVBUILD_MIRROR_BUCKET"],
			Prefix:          v["VENVBUILD_MIRROR_PREFIX"],
			Region:          v["VENVBUILD_MIRROR_REGION"],
			AccessKeyID:     v["VENVBUILD_MIRROR_ACCESS_KEY_ID"],
			SecretAccessKey: v["VENVBUILD_MIRROR_SECRET_ACCESS_KEY"],
		},
	}

	if j := v["VENVBUILD_JOBS"]; j != "" {
		n, err := strconv.Atoi(j)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("VENVBUILD_JOBS must be a positive integer, got %q", j)
		}
		s.Jobs = n
	}
	if s.Shell == "" {
		s.Shell = defaultShell
	}
	if s.Mirror.Region == "" {
		s.Mirror.Region = "auto"
	}
	return s, nil
}

// finalize checks required values and makes paths absolute.
func (s *Settings) finalize() error {
	if s.TargetEnv == "" {
		return fmt.Errorf("target environment not set (use --target or VENVBUILD_TARGET)")
	}
	if s.SrcPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		s.SrcPath = wd
	}

	var err error
	if s.TargetEnv, err = filepath.Abs(s.TargetEnv); err != nil {
		return err
	}
	if s.SrcPath, err = filepath.Abs(s.SrcPath); err != nil {
		return err
	}
	if s.LogDir == "" {
		s.LogDir = filepath.Join(s.TargetEnv, stateDir, "logs")
	}
	if s.CatalogFile == "" {
		s.CatalogFile = filepath.Join(s.SrcPath, thirdPartyDir, catalogFileName)
	}
	return nil
}

// ThirdPartyDir returns <SrcPath>/3rdparty.
func (s *Settings) ThirdPartyDir() string {
	return filepath.Join(s.SrcPath, thirdPartyDir)
}
