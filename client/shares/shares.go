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

// Package shares contains functions for splitting wrapping secrets into trustee
// key parts and combining them back.
package shares

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/ballotbox/client/internal/secret_sharing/secrets"
	"github.com/GoogleCloudPlatform/ballotbox/client/internal/secret_sharing/shamir"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/google/tink/go/subtle/random"
)

var (
	// ErrFieldSize is returned when more than 255 shares are requested.
	ErrFieldSize = shamir.ErrFieldSize
	// ErrThreshold is returned when the threshold is out of [1, numShares].
	ErrThreshold = shamir.ErrThreshold
	// ErrConflictingShares is returned when shares for the same trustee disagree.
	ErrConflictingShares = shamir.ErrConflictingShares
	// ErrInsufficientShares is returned when fewer distinct shares than a declared threshold are supplied.
	ErrInsufficientShares = shamir.ErrInsufficientShares
	// ErrMalformedShare is returned for share bytes that cannot be a share.
	ErrMalformedShare = secrets.ErrMalformedShare
)

// NewSecret randomly generates and returns a wrapping secret of constants.SecretBytes bytes.
func NewSecret() []byte {
	return random.GetRandomBytes(uint32(constants.SecretBytes))
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}

// ValidateParams checks numShares and threshold before any key material is generated.
func ValidateParams(numShares, threshold int) error {
	return shamir.ValidateMetadata(secrets.Metadata{NumShares: numShares, Threshold: threshold})
}

// HashShare performs a SHA-256 hash on the provided share.
func HashShare(share []byte) []byte {
	hash := sha256.Sum256(share)
	return hash[:]
}

// ValidateShare performs HashShare on the provided share, then returns whether
// the result is equal to the provided hash.
func ValidateShare(share []byte, expectedHash []byte) bool {
	return bytes.Equal(HashShare(share), expectedHash)
}

// SplitShares takes a secret as `data`, and returns a slice of byte slices, each representing
// one of the n shares in wire format (x-coordinate first).
func SplitShares(data []byte, numShares, threshold int) ([][]byte, error) {
	md := secrets.Metadata{
		NumShares: numShares,
		Threshold: threshold,
	}
	split, err := shamir.SplitSecret(md, data)
	if err != nil {
		return nil, fmt.Errorf("error splitting secret: %w", err)
	}

	if split.SecretLen != len(data) {
		return nil, fmt.Errorf("split indicates secret has length %v, expected %v", split.SecretLen, len(data))
	}

	out := make([][]byte, 0, len(split.Shares))
	for _, s := range split.Shares {
		out = append(out, s.Bytes())
		Zero(s.Value)
	}
	return out, nil
}

func parseShares(parts [][]byte) ([]secrets.Share, error) {
	out := make([]secrets.Share, 0, len(parts))
	for i, p := range parts {
		s, err := secrets.ParseShare(p)
		if err != nil {
			return nil, fmt.Errorf("key part #%d: %w", i+1, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CombineShares takes a list of shares and reconstitutes the original data.
// With threshold > 0 only that many distinct shares are used; with threshold 0
// all distinct shares are. Fewer genuine shares than the sharing threshold give
// a wrong result rather than an error, so integrity checks are done separately.
func CombineShares(parts [][]byte, threshold int) ([]byte, error) {
	s, err := parseShares(parts)
	if err != nil {
		return nil, err
	}
	secret, err := shamir.Reconstruct(s, threshold)
	if err != nil {
		return nil, fmt.Errorf("error combining shares: %w", err)
	}
	return secret, nil
}

// VerifyShares checks that shares beyond the first threshold distinct ones are
// consistent with them.
func VerifyShares(parts [][]byte, threshold int) error {
	s, err := parseShares(parts)
	if err != nil {
		return err
	}
	return shamir.Verify(s, threshold)
}

// Armor encodes a key part for pasting into a comment or message.
func Armor(part []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: constants.KeyPartPEMType, Bytes: part}))
}

// Dearmor decodes a key part produced by Armor. The armored block may be
// surrounded by other text. Bare base64 is accepted too.
func Dearmor(text []byte) ([]byte, error) {
	rest := text
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == constants.KeyPartPEMType {
			return block.Bytes, nil
		}
	}
	part, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: no %q block and not base64", ErrMalformedShare, constants.KeyPartPEMType)
	}
	return part, nil
}
