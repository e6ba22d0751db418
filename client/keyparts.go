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

package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/GoogleCloudPlatform/ballotbox/ballot"
	"github.com/GoogleCloudPlatform/ballotbox/client/cloudkms"
	"github.com/GoogleCloudPlatform/ballotbox/client/envelope"
	"github.com/GoogleCloudPlatform/ballotbox/client/shares"
	"github.com/GoogleCloudPlatform/ballotbox/config"
	glog "github.com/golang/glog"
)

// ErrNoKeyPart is returned when none of the wrapped key parts can be unwrapped
// with the locally available keys.
var ErrNoKeyPart = errors.New("no key part could be unwrapped")

// UnwrappedKeyPart is a key part recovered for one trustee.
type UnwrappedKeyPart struct {
	Trustee string
	Part    []byte
}

// publicKeyForRSAFingerprint iterates through the public key files in `keys`,
// searching for one whose fingerprint is `fingerprint`. Files that cannot be
// read or parsed are logged and skipped.
func publicKeyForRSAFingerprint(fingerprint string, keys config.AsymmetricKeys) (*rsa.PublicKey, error) {
	for _, path := range keys.PublicKeyFiles {
		keyBytes, err := os.ReadFile(path)
		if err != nil {
			glog.Warningf("Failed to open public key file: %v", err)
			continue
		}

		key, err := envelope.ParsePublicKey(keyBytes)
		if err != nil {
			glog.Warningf("Failed to parse public key %s: %v", path, err)
			continue
		}
		fp, err := envelope.Fingerprint(key)
		if err != nil {
			glog.Warningf("Failed to fingerprint public key %s: %v", path, err)
			continue
		}
		if fp == fingerprint {
			return key, nil
		}
	}

	return nil, fmt.Errorf("no RSA public key found for fingerprint: %s", fingerprint)
}

// privateKeyForRSAFingerprint iterates through the private key files in
// `keys`, searching for one whose public half has fingerprint `fingerprint`.
// Files that cannot be read or parsed are logged and skipped.
func privateKeyForRSAFingerprint(fingerprint string, keys config.AsymmetricKeys) (*rsa.PrivateKey, error) {
	for _, path := range keys.PrivateKeyFiles {
		keyBytes, err := os.ReadFile(path)
		if err != nil {
			glog.Warningf("Failed to open private key file: %v", err)
			continue
		}

		key, err := envelope.ParsePrivateKey(keyBytes)
		clear(keyBytes)
		if err != nil {
			glog.Warningf("Failed to parse private key %s: %v", path, err)
			continue
		}
		fp, err := envelope.Fingerprint(&key.PublicKey)
		if err != nil {
			glog.Warningf("Failed to fingerprint private key %s: %v", path, err)
			continue
		}
		if fp == fingerprint {
			return key, nil
		}
	}

	return nil, fmt.Errorf("no RSA private key found for fingerprint: %s", fingerprint)
}

// WrapKeyParts encrypts key part i to trustee i of cfg, with the trustee's
// RSA public key or Cloud KMS key.
func (c *BallotClient) WrapKeyParts(ctx context.Context, parts [][]byte, cfg *config.Config) ([]ballot.WrappedKeyPart, error) {
	if len(parts) != len(cfg.Trustees) {
		return nil, fmt.Errorf("number of key parts to wrap (%d) does not match number of trustees (%d)", len(parts), len(cfg.Trustees))
	}

	wrappedParts := make([]ballot.WrappedKeyPart, 0, len(parts))
	for i, part := range parts {
		trustee := cfg.Trustees[i]
		wrapped := ballot.WrappedKeyPart{
			Trustee: trustee.Name,
			Hash:    shares.HashShare(part),
		}

		switch {
		case trustee.RSAFingerprint != "":
			key, err := publicKeyForRSAFingerprint(trustee.RSAFingerprint, cfg.AsymmetricKeys)
			if err != nil {
				return nil, fmt.Errorf("failed to find public key for trustee %q: %w", trustee.Name, err)
			}

			wrapped.Wrapped, err = envelope.AsymmetricEncrypt(part, key)
			if err != nil {
				return nil, fmt.Errorf("error wrapping key part for trustee %q: %v", trustee.Name, err)
			}

		case trustee.KMSKeyURI != "":
			keyName, ok := cloudkms.KeyName(trustee.KMSKeyURI)
			if !ok {
				return nil, fmt.Errorf("unsupported key URI %q for trustee %q", trustee.KMSKeyURI, trustee.Name)
			}
			kmsClient, err := c.kmsClient(ctx, cfg.KMSCredentials)
			if err != nil {
				return nil, err
			}

			pl, err := cloudkms.ProtectionLevel(ctx, kmsClient, keyName)
			if err != nil {
				return nil, fmt.Errorf("error retrieving key metadata for trustee %q: %w", trustee.Name, err)
			}
			glog.Infof("Wrapping key part for %q with %v key %s", trustee.Name, pl, trustee.KMSKeyURI)

			wrapped.URI = trustee.KMSKeyURI
			wrapped.Wrapped, err = cloudkms.WrapKeyPart(ctx, kmsClient, cloudkms.WrapOpts{KeyPart: part, KeyName: keyName})
			if err != nil {
				return nil, fmt.Errorf("error wrapping key part for trustee %q: %w", trustee.Name, err)
			}

		default:
			return nil, fmt.Errorf("trustee %q has no key", trustee.Name)
		}

		wrappedParts = append(wrappedParts, wrapped)
	}

	return wrappedParts, nil
}

// unwrapKeyPart decrypts one wrapped key part with the key cfg holds for its
// trustee.
func (c *BallotClient) unwrapKeyPart(ctx context.Context, wrapped ballot.WrappedKeyPart, trustee config.Trustee, cfg *config.Config) ([]byte, error) {
	switch {
	case trustee.RSAFingerprint != "":
		key, err := privateKeyForRSAFingerprint(trustee.RSAFingerprint, cfg.AsymmetricKeys)
		if err != nil {
			return nil, err
		}
		return envelope.AsymmetricDecrypt(wrapped.Wrapped, key)

	case trustee.KMSKeyURI != "":
		if wrapped.URI != "" && wrapped.URI != trustee.KMSKeyURI {
			return nil, fmt.Errorf("key part was wrapped with %s, trustee is configured with %s", wrapped.URI, trustee.KMSKeyURI)
		}
		keyName, ok := cloudkms.KeyName(trustee.KMSKeyURI)
		if !ok {
			return nil, fmt.Errorf("unsupported key URI %q", trustee.KMSKeyURI)
		}
		kmsClient, err := c.kmsClient(ctx, cfg.KMSCredentials)
		if err != nil {
			return nil, err
		}
		return cloudkms.UnwrapKeyPart(ctx, kmsClient, cloudkms.UnwrapOpts{WrappedKeyPart: wrapped.Wrapped, KeyName: keyName})

	default:
		return nil, fmt.Errorf("trustee %q has no key", trustee.Name)
	}
}

// UnwrapKeyParts decrypts every wrapped key part belonging to a trustee in
// cfg whose key is available, and returns those whose hash validates.
// Failures are logged and skipped, so an operator holding several trustee
// keys gets every part they can open.
func (c *BallotClient) UnwrapKeyParts(ctx context.Context, wrappedParts []ballot.WrappedKeyPart, cfg *config.Config) ([]UnwrappedKeyPart, error) {
	return c.unwrapKeyParts(ctx, wrappedParts, cfg, len(wrappedParts))
}

// UnwrapKeyPart returns the first wrapped key part that unwraps and validates.
func (c *BallotClient) UnwrapKeyPart(ctx context.Context, wrappedParts []ballot.WrappedKeyPart, cfg *config.Config) (*UnwrappedKeyPart, error) {
	parts, err := c.unwrapKeyParts(ctx, wrappedParts, cfg, 1)
	if err != nil {
		return nil, err
	}
	return &parts[0], nil
}

func (c *BallotClient) unwrapKeyParts(ctx context.Context, wrappedParts []ballot.WrappedKeyPart, cfg *config.Config, limit int) ([]UnwrappedKeyPart, error) {
	trustees := make(map[string]config.Trustee, len(cfg.Trustees))
	for _, t := range cfg.Trustees {
		trustees[t.Name] = t
	}

	var unwrappedParts []UnwrappedKeyPart
	for i, wrapped := range wrappedParts {
		trustee, ok := trustees[wrapped.Trustee]
		if !ok {
			continue
		}
		glog.Infof("Attempting to unwrap key part #%v for %q", i+1, wrapped.Trustee)

		part, err := c.unwrapKeyPart(ctx, wrapped, trustee, cfg)
		if err != nil {
			glog.Warningf("Error unwrapping key part #%v: %v", i+1, err)
			continue
		}

		if !shares.ValidateShare(part, wrapped.Hash) {
			glog.Warningf("Unwrapped key part #%v does not have the expected hash", i+1)
			continue
		}

		glog.Infof("Successfully unwrapped key part #%v", i+1)
		unwrappedParts = append(unwrappedParts, UnwrappedKeyPart{Trustee: wrapped.Trustee, Part: part})
		if len(unwrappedParts) == limit {
			break
		}
	}

	if len(unwrappedParts) == 0 {
		return nil, ErrNoKeyPart
	}
	return unwrappedParts, nil
}
