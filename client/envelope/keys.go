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

package envelope

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

const (
	publicKeyPEMType     = "PUBLIC KEY"
	privateKeyPEMType    = "PRIVATE KEY"
	rsaPrivateKeyPEMType = "RSA PRIVATE KEY"
)

// ParsePublicKey parses an RSA public key from SPKI DER or a PEM "PUBLIC KEY" block.
func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != publicKeyPEMType {
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKey, block.Type)
		}
		der = block.Bytes
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrKey, key)
	}
	return rsaKey, nil
}

// ParsePrivateKey parses an RSA private key from PKCS#8 DER, a PEM
// "PRIVATE KEY" block, or a PEM "RSA PRIVATE KEY" (PKCS#1) block.
func ParsePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	der := raw
	pkcs1 := false
	if block, _ := pem.Decode(raw); block != nil {
		switch block.Type {
		case privateKeyPEMType:
		case rsaPrivateKeyPEMType:
			pkcs1 = true
		default:
			return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrKey, block.Type)
		}
		der = block.Bytes
	}
	if pkcs1 {
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKey, err)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrKey, key)
	}
	return rsaKey, nil
}

// MarshalPublicKey returns the SPKI DER encoding of key.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %v", err)
	}
	return der, nil
}

// MarshalPrivateKey returns the PKCS#8 DER encoding of key.
func MarshalPrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %v", err)
	}
	return der, nil
}

// PublicKeyPEM wraps SPKI DER in a PEM "PUBLIC KEY" block.
func PublicKeyPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: der})
}

// PrivateKeyPEM wraps PKCS#8 DER in a PEM "PRIVATE KEY" block.
func PrivateKeyPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der})
}

// Fingerprint returns the base64 SHA-256 of the SPKI DER encoding of key.
func Fingerprint(key *rsa.PublicKey) (string, error) {
	der, err := MarshalPublicKey(key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
