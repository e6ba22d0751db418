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

// Package secrets contains types for secret sharing. When splitting a secret, a dealer needs
// to provide both the `secret` + `Metadata`. A dealer would then get a `Split`, which contains
// the `Metadata`, the secret shares, and the secret length.
//
// A share travels as raw bytes: the x-coordinate identifying the trustee first,
// then one y-value per secret byte, in secret byte order.
package secrets

import (
	"errors"
	"fmt"
)

// ErrMalformedShare is returned when share bytes cannot be a valid share.
var ErrMalformedShare = errors.New("malformed share")

// Metadata contains the necessary secret sharing scheme information to split and/or reconstruct a secret.
type Metadata struct {
	NumShares int
	Threshold int
}

// Split represents a secret split into shares alongside the metadata needed to reconstruct it.
type Split struct {
	Metadata Metadata
	Shares   []Share
	// The length of the original split secret in bytes.
	SecretLen int
}

// Point is one sample (x, y) of a per-byte sharing polynomial. X is never zero.
type Point struct {
	X byte
	Y byte
}

// Share represents one share of a shared secret without any metadata.
// Value holds one y-value per secret byte, all sampled at X.
type Share struct {
	Value []byte
	X     byte
}

// Bytes encodes the share in wire format: X followed by Value.
func (s Share) Bytes() []byte {
	out := make([]byte, 0, len(s.Value)+1)
	out = append(out, s.X)
	return append(out, s.Value...)
}

// Point returns the sample of the i-th secret byte carried by this share.
func (s Share) Point(i int) Point {
	return Point{X: s.X, Y: s.Value[i]}
}

// ParseShare decodes a share from wire format. The returned share aliases b.
func ParseShare(b []byte) (Share, error) {
	if len(b) < 2 {
		return Share{}, fmt.Errorf("%w: length %d, need at least 2 bytes", ErrMalformedShare, len(b))
	}
	if b[0] == 0 {
		return Share{}, fmt.Errorf("%w: x-coordinate 0 is reserved", ErrMalformedShare)
	}
	return Share{X: b[0], Value: b[1:]}, nil
}
