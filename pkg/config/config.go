// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the lhsm-reconcile configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/fileid"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/reconcile"
)

// DefaultConfigPath is read when no config file is named.
const DefaultConfigPath = "/etc/lhsm-reconcile.json"

// LegacyConfigPath is read when DefaultConfigPath does not exist.
const LegacyConfigPath = "/etc/amlfs_hsm_tools.json"

// Backend names
const (
	BackendAzure = "azblob"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendPosix = "posix"
)

// Config is the lhsm-reconcile configuration. It may be written as HCL
// or JSON.
type Config struct {
	Backend string `hcl:"backend" json:"backend"`

	AccountURL string `hcl:"account_url" json:"account_url,omitempty"`
	Container  string `hcl:"container" json:"container,omitempty"`

	// Keys used by the amlfs_hsm_tools configuration.
	LegacyAccountURL string `hcl:"accountURL" json:"-"`
	LegacyContainer  string `hcl:"containerName" json:"-"`

	Bucket      string `hcl:"bucket" json:"bucket,omitempty"`
	Region      string `hcl:"region" json:"region,omitempty"`
	Endpoint    string `hcl:"endpoint" json:"endpoint,omitempty"`
	Credentials string `hcl:"credentials" json:"credentials,omitempty"`
	Root        string `hcl:"root" json:"root,omitempty"`
	Prefix      string `hcl:"prefix" json:"prefix,omitempty"`

	ArchiveID   int    `hcl:"archive_id" json:"archive_id"`
	TargetXattr string `hcl:"target_xattr" json:"target_xattr"`

	PollInterval string `hcl:"poll_interval" json:"poll_interval"`
	WaitTimeout  string `hcl:"wait_timeout" json:"wait_timeout"`
	MaxPolls     int    `hcl:"max_polls" json:"max_polls"`

	LockDir string `hcl:"lock_dir" json:"lock_dir,omitempty"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		TargetXattr:  fileid.DefaultURLAttr,
		PollInterval: reconcile.DefaultPollInterval.String(),
		WaitTimeout:  reconcile.DefaultWaitTimeout.String(),
	}
}

// LoadConfig reads cfgFile and decodes it into cfg. The file must not
// be writable by group or other.
func LoadConfig(cfgFile string, cfg interface{}) error {
	fi, err := os.Stat(cfgFile)
	if err != nil {
		return errors.Wrap(err, "stat config file failed")
	}
	if (int(fi.Mode()) & 022) != 0 {
		return errors.Errorf("config file %s permissions are insecure (%v)", cfgFile, fi.Mode())
	}

	data, err := ioutil.ReadFile(cfgFile)
	if err != nil {
		return errors.Wrap(err, "read config file failed")
	}

	if err := hcl.Decode(cfg, string(data)); err != nil {
		return errors.Wrap(err, "decode config file failed")
	}

	return nil
}

// configPath falls back to legacy when cfgFile is the default path
// and does not exist.
func configPath(cfgFile, def, legacy string) string {
	if cfgFile != def {
		return cfgFile
	}
	if _, err := os.Stat(cfgFile); !os.IsNotExist(err) {
		return cfgFile
	}
	if _, err := os.Stat(legacy); err == nil {
		debug.Printf("%s not found, using %s", cfgFile, legacy)
		return legacy
	}
	return cfgFile
}

// Load reads, normalizes and validates the configuration in cfgFile.
func Load(cfgFile string) (*Config, error) {
	cfgFile = configPath(cfgFile, DefaultConfigPath, LegacyConfigPath)
	cfg := New()
	if err := LoadConfig(cfgFile, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.CheckValid(); err != nil {
		return nil, errors.Wrap(err, cfgFile)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.AccountURL == "" {
		c.AccountURL = c.LegacyAccountURL
	}
	if c.Container == "" {
		c.Container = c.LegacyContainer
	}
	c.Backend = strings.ToLower(c.Backend)
	if c.Backend == "" && c.AccountURL != "" {
		c.Backend = BackendAzure
	}
	if c.TargetXattr == "" {
		c.TargetXattr = fileid.DefaultURLAttr
	}
}

func parseDuration(errs []string, name, value string) []string {
	if value == "" {
		return errs
	}
	if _, err := time.ParseDuration(value); err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}
	return errs
}

// CheckValid reports every problem with the configuration.
func (c *Config) CheckValid() error {
	var errs []string

	switch c.Backend {
	case BackendAzure:
		if c.AccountURL == "" {
			errs = append(errs, "azblob: account_url not set")
		}
		if c.Container == "" {
			errs = append(errs, "azblob: container not set")
		}
	case BackendS3, BackendGCS:
		if c.Bucket == "" {
			errs = append(errs, fmt.Sprintf("%s: bucket not set", c.Backend))
		}
	case BackendPosix:
		if c.Root == "" {
			errs = append(errs, "posix: root not set")
		}
	case "":
		errs = append(errs, "backend not set")
	default:
		errs = append(errs, fmt.Sprintf("unknown backend %q", c.Backend))
	}

	if c.ArchiveID < 0 {
		errs = append(errs, "archive_id must not be negative")
	}
	if c.MaxPolls < 0 {
		errs = append(errs, "max_polls must not be negative")
	}
	errs = parseDuration(errs, "poll_interval", c.PollInterval)
	errs = parseDuration(errs, "wait_timeout", c.WaitTimeout)

	if len(errs) > 0 {
		return errors.Errorf("Errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// WaitOptions returns the completion wait bounds. Invalid durations
// fall back to the defaults.
func (c *Config) WaitOptions() reconcile.WaitOptions {
	opts := reconcile.DefaultWaitOptions()
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		opts.Interval = d
	}
	if d, err := time.ParseDuration(c.WaitTimeout); err == nil {
		if d == 0 {
			d = -1
		}
		opts.Timeout = d
	}
	opts.MaxPolls = c.MaxPolls
	return opts
}

func (c *Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		alert.Abort(errors.Wrap(err, "marshal config failed"))
	}

	var out bytes.Buffer
	json.Indent(&out, data, "", "\t")
	return out.String()
}
