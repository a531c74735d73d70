// Package config loads the miner's process-wide, read-only configuration
// from command-line flags and an optional config file via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/acbcminer/acbcminer/log"
)

// MiningConfig is the process-wide, read-only configuration consumed by
// the mining Manager.  It never changes once loaded; the manager and its
// sub-components read its fields but never write them.
type MiningConfig struct {
	DaemonHost string
	DaemonPort uint16

	MiningAddress string

	ThreadCount    uint32
	ScanPeriod     time.Duration
	BlocksLimit    uint32
	RetryBackoff   time.Duration

	// FirstBlockTimestamp, when non-zero, seeds the timestamp of the
	// first mined template; a zero value disables timestamp fixups
	// entirely. Used by regression-test harnesses that need
	// reproducible block timestamps.
	FirstBlockTimestamp    uint64
	BlockTimestampInterval uint64

	LogLevel string
	LogDir   string
}

// DaemonAddr returns the host:port pair the DaemonClient should dial.
func (c *MiningConfig) DaemonAddr() string {
	return fmt.Sprintf("%s:%d", c.DaemonHost, c.DaemonPort)
}

// Validate checks the invariants required before any component is
// started. A zero thread count or a missing mining address are programmer
// errors the caller should surface as a startup failure, not something a
// component discovers mid-run.
func (c *MiningConfig) Validate() error {
	if c.ThreadCount == 0 {
		return fmt.Errorf("thread-count must be at least 1")
	}
	if c.MiningAddress == "" {
		return fmt.Errorf("mining-address is required")
	}
	if c.ScanPeriod <= 0 {
		return fmt.Errorf("scan-period must be positive")
	}
	return nil
}

// Defaults returns a MiningConfig populated with the flag defaults used by
// BindFlags below.
func Defaults() *MiningConfig {
	return &MiningConfig{
		DaemonHost:             "127.0.0.1",
		DaemonPort:             11898,
		ThreadCount:            1,
		ScanPeriod:             10 * time.Second,
		RetryBackoff:           1 * time.Second,
		LogLevel:               "info",
		LogDir:                 "logs",
		BlockTimestampInterval: 0,
	}
}

// BindFlags registers the miner's flags on fs and binds them into v so that
// a config file, environment variables, and flags all resolve through the
// same precedence chain.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := Defaults()

	fs.String("daemon-host", d.DaemonHost, "hostname or IP of the daemon to mine against")
	fs.Uint16("daemon-port", d.DaemonPort, "HTTP port of the daemon")
	fs.String("mining-address", "", "address credited for mined blocks")
	fs.Uint32("threads", d.ThreadCount, "number of hashing worker threads")
	fs.Duration("scan-period", d.ScanPeriod, "how often the tip monitor polls the daemon")
	fs.Uint32("blocks-limit", 0, "stop after mining this many blocks (0 = unlimited)")
	fs.Duration("retry-backoff", d.RetryBackoff, "delay between retries when the daemon is unreachable")
	fs.Uint64("first-block-timestamp", 0, "timestamp to force onto the first mined template (0 = disabled)")
	fs.Uint64("block-timestamp-interval", 0, "seconds to add per block to derive subsequent template timestamps")
	fs.String("log-level", d.LogLevel, "logging level (trace, debug, info, warn, error, critical)")
	fs.String("log-dir", d.LogDir, "directory for rotated log files")

	_ = v.BindPFlags(fs)
}

// Load builds a MiningConfig from v, which must already have had BindFlags
// applied to the flag set it wraps.
func Load(v *viper.Viper) *MiningConfig {
	cfg := &MiningConfig{
		DaemonHost:             v.GetString("daemon-host"),
		DaemonPort:             uint16(v.GetUint32("daemon-port")),
		MiningAddress:          v.GetString("mining-address"),
		ThreadCount:            v.GetUint32("threads"),
		ScanPeriod:             v.GetDuration("scan-period"),
		BlocksLimit:            v.GetUint32("blocks-limit"),
		RetryBackoff:           v.GetDuration("retry-backoff"),
		FirstBlockTimestamp:    v.GetUint64("first-block-timestamp"),
		BlockTimestampInterval: v.GetUint64("block-timestamp-interval"),
		LogLevel:               v.GetString("log-level"),
		LogDir:                 v.GetString("log-dir"),
	}

	if used := v.ConfigFileUsed(); used != "" {
		log.CfgLog.Infof("loaded configuration from %s", used)
	}
	log.CfgLog.Debugf("resolved config: daemon=%s threads=%d scan-period=%s",
		cfg.DaemonAddr(), cfg.ThreadCount, cfg.ScanPeriod)

	return cfg
}
