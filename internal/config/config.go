// Package config resolves the pipeline's external configuration into an
// immutable RunConfig.
//
// Why resolve once?
//
// Every path and device id the pipeline depends on is validated here, at
// startup, and the result is handed by reference through the rest of the
// system. No component performs ambient lookups later, so a run either
// starts with a fully verified configuration or not at all.
package config

import (
	"time"
)

// RunConfig is the immutable record of everything a single pipeline run
// needs from the outside world. Created once by Resolve, never mutated.
type RunConfig struct {
	// Mandatory. Validated by Resolve.
	OutputRoot     string
	OpticalBinary  string
	AcousticBinary string
	DeviceIDs      []int

	// Optional tuning.
	StageTimeout    time.Duration
	RetainWorkspace bool
	PhotonCount     int64
	PulseEnergyMJ   float64 // 0 means unset; pressure stays in arbitrary units

	// Optional integrations. Nil when the block is absent.
	Ledger  *LedgerConfig
	Archive *ArchiveConfig
}

// LedgerConfig configures the sqlite run ledger.
type LedgerConfig struct {
	Path string
}

// ArchiveConfig configures upload of terminal artifacts to an S3-compatible
// object store.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// DefaultStageTimeout bounds a single solver invocation when the
// configuration does not say otherwise. Monte Carlo and k-space runs are
// long; an hour distinguishes "slow" from "hung".
const DefaultStageTimeout = time.Hour

// DefaultPhotonCount matches the photon budget the optical stage launches
// when the configuration does not override it.
const DefaultPhotonCount = 1e7
