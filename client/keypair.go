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
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/ballotbox/client/envelope"
	"github.com/GoogleCloudPlatform/ballotbox/client/shares"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	glog "github.com/golang/glog"
)

// SplitKeyPair is a freshly generated election key pair in custody form. The
// private key only exists encrypted under a secret that is itself split into
// Shares.
type SplitKeyPair struct {
	// PublicKey is the SPKI DER encoding of the public key.
	PublicKey []byte
	// EncryptedPrivateKey is the salted ciphertext of the PKCS#8 private key.
	EncryptedPrivateKey []byte
	// Shares holds one key part per trustee. With a threshold of 1 every
	// trustee gets the wrapping secret itself.
	Shares [][]byte
	// Threshold is the number of key parts needed to reconstruct the key.
	Threshold int
}

// PublicKeyPEM returns the public key as a PEM "PUBLIC KEY" block.
func (s *SplitKeyPair) PublicKeyPEM() []byte {
	return envelope.PublicKeyPEM(s.PublicKey)
}

// GenerateAndSplitKeyPair generates an RSA election key pair, encrypts the
// private key under a fresh secret, and splits that secret into numShares
// key parts of which threshold reconstruct it. Neither the secret nor the
// cleartext private key outlive the call.
//
// A threshold of 1 hands every trustee the secret verbatim, so any single
// trustee can open the election alone.
func GenerateAndSplitKeyPair(numShares, threshold int) (*SplitKeyPair, error) {
	if err := shares.ValidateParams(numShares, threshold); err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, constants.RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %v", err)
	}
	spki, err := envelope.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	pkcs8, err := envelope.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}
	secret, encryptedPrivateKey, err := envelope.SymmetricEncrypt(pkcs8)
	clear(pkcs8)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %v", err)
	}
	defer clear(secret)

	var parts [][]byte
	if threshold == 1 {
		parts = make([][]byte, numShares)
		for i := range parts {
			parts[i] = bytes.Clone(secret)
		}
	} else {
		parts, err = shares.SplitShares(secret, numShares, threshold)
		if err != nil {
			return nil, err
		}
	}

	glog.Infof("Generated election key pair with %d key parts, %d needed to reconstruct", numShares, threshold)
	return &SplitKeyPair{
		PublicKey:           spki,
		EncryptedPrivateKey: encryptedPrivateKey,
		Shares:              parts,
		Threshold:           threshold,
	}, nil
}

// ReconstructedKey is the election private key recovered from key parts.
type ReconstructedKey struct {
	*envelope.Decrypter
	key *rsa.PrivateKey
}

// Armored returns the private key as a PEM "PRIVATE KEY" block.
func (k *ReconstructedKey) Armored() ([]byte, error) {
	der, err := envelope.MarshalPrivateKey(k.key)
	if err != nil {
		return nil, err
	}
	defer clear(der)
	return envelope.PrivateKeyPEM(der), nil
}

// CheckPublicKey verifies that the key is the private half of publicKeyRaw
// (SPKI DER or PEM).
func (k *ReconstructedKey) CheckPublicKey(publicKeyRaw []byte) error {
	pub, err := envelope.ParsePublicKey(publicKeyRaw)
	if err != nil {
		return err
	}
	if !pub.Equal(&k.key.PublicKey) {
		return fmt.Errorf("%w: reconstructed key does not match the election public key", ErrKeyReconstruction)
	}
	return nil
}

// ReconstructSplitKey recovers the election private key from key parts.
//
// Key parts of constants.SecretBytes bytes are taken as the verbatim secret
// handed out with a threshold of 1. Otherwise they are combined; with a
// positive threshold and more key parts than that, the surplus parts are
// first checked against the others.
//
// A malformed encryptedPrivateKey is envelope.ErrFormat, malformed or
// conflicting key parts are the shares errors, and a secret that does not
// open the private key is ErrKeyReconstruction.
func ReconstructSplitKey(encryptedPrivateKey []byte, parts [][]byte, threshold int) (*ReconstructedKey, error) {
	if _, _, err := envelope.SplitSalted(encryptedPrivateKey); err != nil {
		return nil, fmt.Errorf("encrypted private key: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no key parts provided", shares.ErrInsufficientShares)
	}

	secret, err := combine(parts, threshold)
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	pkcs8, err := envelope.SymmetricDecrypt(encryptedPrivateKey, secret)
	if err != nil {
		if errors.Is(err, envelope.ErrFormat) {
			return nil, fmt.Errorf("encrypted private key: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyReconstruction, err)
	}
	defer clear(pkcs8)

	key, err := envelope.ParsePrivateKey(pkcs8)
	if err != nil {
		// Padding can check out by chance with the wrong secret.
		return nil, fmt.Errorf("%w: %v", ErrKeyReconstruction, err)
	}
	glog.Infof("Reconstructed election private key from %d key parts", len(parts))
	return &ReconstructedKey{Decrypter: envelope.NewDecrypter(key), key: key}, nil
}

// combine returns the wrapping secret from key parts.
func combine(parts [][]byte, threshold int) ([]byte, error) {
	if isVerbatimSecret(parts) {
		for _, p := range parts[1:] {
			if !bytes.Equal(p, parts[0]) {
				return nil, fmt.Errorf("%w: key parts of a 1-of-n election differ", shares.ErrConflictingShares)
			}
		}
		return bytes.Clone(parts[0]), nil
	}

	if threshold > 0 && len(parts) > threshold {
		if err := shares.VerifyShares(parts, threshold); err != nil {
			return nil, err
		}
	}
	return shares.CombineShares(parts, threshold)
}

func isVerbatimSecret(parts [][]byte) bool {
	for _, p := range parts {
		if len(p) != constants.SecretBytes {
			return false
		}
	}
	return true
}
