// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the ballotbox configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/ballotbox/client/cloudkms"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"sigs.k8s.io/yaml"
)

// DefaultName is the name of the configuration file in the user config directory.
const DefaultName = "ballotbox.yaml"

// ErrInvalid is returned for a configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Trustee identifies the key that protects one trustee's key part. Exactly
// one of RSAFingerprint and KMSKeyURI is set.
type Trustee struct {
	Name           string `json:"name"`
	RSAFingerprint string `json:"rsaFingerprint,omitempty"`
	KMSKeyURI      string `json:"kmsKeyUri,omitempty"`
}

// AsymmetricKeys lists local RSA key files used to wrap and unwrap key parts.
type AsymmetricKeys struct {
	PublicKeyFiles  []string `json:"publicKeyFiles,omitempty"`
	PrivateKeyFiles []string `json:"privateKeyFiles,omitempty"`
}

// Config is the contents of a ballotbox.yaml file.
type Config struct {
	Trustees       []Trustee      `json:"trustees,omitempty"`
	AsymmetricKeys AsymmetricKeys `json:"asymmetricKeys"`
	// Parallelism bounds concurrent ballot decryption. Zero means the default.
	Parallelism int `json:"parallelism,omitempty"`
	// KMSCredentials holds optional JSON credentials for Cloud KMS.
	KMSCredentials string `json:"kmsCredentials,omitempty"`
}

// DefaultPath returns the path of ballotbox.yaml in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory location: %v", err)
	}
	return filepath.Join(dir, DefaultName), nil
}

// Load reads and validates the configuration at path. A missing file at the
// default location gives an empty configuration.
func Load(path string) (*Config, error) {
	yamlBytes, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if def, derr := DefaultPath(); derr == nil && def == path {
			return &Config{}, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	return Parse(yamlBytes)
}

// Parse parses and validates a YAML configuration.
func Parse(yamlBytes []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(yamlBytes, cfg, yaml.DisallowUnknownFields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the trustee list and parallelism.
func (c *Config) Validate() error {
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism %d is negative", ErrInvalid, c.Parallelism)
	}
	if len(c.Trustees) > constants.FieldSize {
		return fmt.Errorf("%w: %d trustees, at most %d are supported", ErrInvalid, len(c.Trustees), constants.FieldSize)
	}
	names := make(map[string]bool, len(c.Trustees))
	for i, t := range c.Trustees {
		if t.Name == "" {
			return fmt.Errorf("%w: trustee #%d has no name", ErrInvalid, i+1)
		}
		if names[t.Name] {
			return fmt.Errorf("%w: trustee %q is listed twice", ErrInvalid, t.Name)
		}
		names[t.Name] = true

		switch {
		case t.RSAFingerprint != "" && t.KMSKeyURI != "":
			return fmt.Errorf("%w: trustee %q has both rsaFingerprint and kmsKeyUri", ErrInvalid, t.Name)
		case t.RSAFingerprint == "" && t.KMSKeyURI == "":
			return fmt.Errorf("%w: trustee %q has neither rsaFingerprint nor kmsKeyUri", ErrInvalid, t.Name)
		case t.KMSKeyURI != "":
			if _, ok := cloudkms.KeyName(t.KMSKeyURI); !ok {
				return fmt.Errorf("%w: trustee %q key URI %q does not start with %q", ErrInvalid, t.Name, t.KMSKeyURI, constants.GCPKeyPrefix)
			}
		}
	}
	return nil
}

// EffectiveParallelism returns Parallelism or the default when unset.
func (c *Config) EffectiveParallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return constants.DefaultParallelism
}

// TrusteeNames returns the names of the configured trustees in order.
func (c *Config) TrusteeNames() []string {
	out := make([]string, 0, len(c.Trustees))
	for _, t := range c.Trustees {
		out = append(out, t.Name)
	}
	return out
}
