package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/photopipe/internal/ctxlog"
)

// hclRoot is the top-level structure of a pipeline configuration file.
type hclRoot struct {
	Pipeline *hclPipeline `hcl:"pipeline,block"`
	Ledger   *hclLedger   `hcl:"ledger,block"`
	Archive  *hclArchive  `hcl:"archive,block"`
}

// hclPipeline decodes the mandatory keys as pointers so absence is
// distinguishable from a zero value and can be reported per key.
type hclPipeline struct {
	OutputRoot     *string  `hcl:"output_root,optional"`
	OpticalBinary  *string  `hcl:"optical_binary,optional"`
	AcousticBinary *string  `hcl:"acoustic_binary,optional"`
	DeviceIDs      []int    `hcl:"device_ids,optional"`
	StageTimeout   *string  `hcl:"stage_timeout,optional"`
	RetainWS       *bool    `hcl:"retain_workspace,optional"`
	PhotonCount    *int64   `hcl:"photon_count,optional"`
	PulseEnergyMJ  *float64 `hcl:"pulse_energy_mj,optional"`
}

type hclLedger struct {
	Path string `hcl:"path"`
}

type hclArchive struct {
	Endpoint  string `hcl:"endpoint"`
	Bucket    string `hcl:"bucket"`
	AccessKey string `hcl:"access_key"`
	SecretKey string `hcl:"secret_key"`
	UseSSL    *bool  `hcl:"use_ssl,optional"`
}

// Resolve loads and validates the HCL configuration file at path and returns
// an immutable RunConfig. Every mandatory key must be present
// (*ConfigError otherwise) and every configured path must exist with the
// permission its role requires (*PathError otherwise). No side effects
// beyond validation.
func Resolve(ctx context.Context, path string) (*RunConfig, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Resolving pipeline configuration.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, diags)
	}

	var root hclRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode configuration file %s: %w", path, diags)
	}
	if root.Pipeline == nil {
		return nil, &ConfigError{Key: "pipeline", Reason: "required block is missing"}
	}

	cfg, err := buildRunConfig(root.Pipeline)
	if err != nil {
		return nil, err
	}
	if root.Ledger != nil {
		cfg.Ledger = &LedgerConfig{Path: root.Ledger.Path}
	}
	if root.Archive != nil {
		useSSL := true
		if root.Archive.UseSSL != nil {
			useSSL = *root.Archive.UseSSL
		}
		cfg.Archive = &ArchiveConfig{
			Endpoint:  root.Archive.Endpoint,
			Bucket:    root.Archive.Bucket,
			AccessKey: root.Archive.AccessKey,
			SecretKey: root.Archive.SecretKey,
			UseSSL:    useSSL,
		}
	}

	if err := validatePaths(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration resolved.",
		"output_root", cfg.OutputRoot,
		"device_ids", cfg.DeviceIDs,
		"stage_timeout", cfg.StageTimeout,
	)
	return cfg, nil
}

func buildRunConfig(p *hclPipeline) (*RunConfig, error) {
	if p.OutputRoot == nil {
		return nil, &ConfigError{Key: "output_root", Reason: "required key is missing"}
	}
	if p.OpticalBinary == nil {
		return nil, &ConfigError{Key: "optical_binary", Reason: "required key is missing"}
	}
	if p.AcousticBinary == nil {
		return nil, &ConfigError{Key: "acoustic_binary", Reason: "required key is missing"}
	}
	if p.DeviceIDs == nil {
		return nil, &ConfigError{Key: "device_ids", Reason: "required key is missing"}
	}
	if len(p.DeviceIDs) == 0 {
		return nil, &ConfigError{Key: "device_ids", Reason: "must list at least one device id"}
	}
	for _, id := range p.DeviceIDs {
		if id < 0 {
			return nil, &ConfigError{Key: "device_ids", Reason: fmt.Sprintf("device id %d is negative", id)}
		}
	}

	cfg := &RunConfig{
		OutputRoot:     *p.OutputRoot,
		OpticalBinary:  *p.OpticalBinary,
		AcousticBinary: *p.AcousticBinary,
		DeviceIDs:      append([]int(nil), p.DeviceIDs...),
		StageTimeout:   DefaultStageTimeout,
		PhotonCount:    DefaultPhotonCount,
	}

	if p.StageTimeout != nil {
		d, err := time.ParseDuration(*p.StageTimeout)
		if err != nil {
			return nil, &ConfigError{Key: "stage_timeout", Reason: fmt.Sprintf("invalid duration %q", *p.StageTimeout)}
		}
		if d <= 0 {
			return nil, &ConfigError{Key: "stage_timeout", Reason: "must be positive"}
		}
		cfg.StageTimeout = d
	}
	if p.RetainWS != nil {
		cfg.RetainWorkspace = *p.RetainWS
	}
	if p.PhotonCount != nil {
		if *p.PhotonCount <= 0 {
			return nil, &ConfigError{Key: "photon_count", Reason: "must be positive"}
		}
		cfg.PhotonCount = *p.PhotonCount
	}
	if p.PulseEnergyMJ != nil {
		if *p.PulseEnergyMJ <= 0 {
			return nil, &ConfigError{Key: "pulse_energy_mj", Reason: "must be positive"}
		}
		cfg.PulseEnergyMJ = *p.PulseEnergyMJ
	}
	return cfg, nil
}

func validatePaths(cfg *RunConfig) error {
	if err := checkExecutable("optical_binary", cfg.OpticalBinary); err != nil {
		return err
	}
	if err := checkExecutable("acoustic_binary", cfg.AcousticBinary); err != nil {
		return err
	}
	return checkWritableDir("output_root", cfg.OutputRoot)
}

func checkExecutable(key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PathError{Key: key, Path: path, Reason: "binary not found", Err: err}
	}
	if info.IsDir() {
		return &PathError{Key: key, Path: path, Reason: "is a directory, expected an executable"}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &PathError{Key: key, Path: path, Reason: "executable bit not set"}
	}
	return nil
}

func checkWritableDir(key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PathError{Key: key, Path: path, Reason: "directory not found", Err: err}
	}
	if !info.IsDir() {
		return &PathError{Key: key, Path: path, Reason: "is not a directory"}
	}
	// Permission bits lie under ACLs and network mounts; probing with a
	// real file is the only trustworthy check.
	probe, err := os.CreateTemp(path, ".photopipe-probe-*")
	if err != nil {
		return &PathError{Key: key, Path: path, Reason: "directory is not writable", Err: err}
	}
	name := probe.Name()
	probe.Close()
	os.Remove(filepath.Clean(name))
	return nil
}
