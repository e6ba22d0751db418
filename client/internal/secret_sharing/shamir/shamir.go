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

// Package shamir encapsulates all of the logic needed to perform t-of-n [Shamir
// Secret Sharing] (SSS) on arbitrary-size secrets over GF(2^8). SSS is based on
// the Lagrange interpolation theorem, which states that `k` points are enough to
// uniquely determine a polynomial of degree less than or equal to `k - 1`.
//
// Every byte of the secret is the constant term of its own polynomial. All
// polynomials of one split are sampled at the same x-coordinates, so a share is
// one x-coordinate plus one y-value per secret byte.
//
// This scheme is secure under the following assumptions:
//   - The scheme requires a trusted dealer to generate the shares. Participants
//     must trust the dealer with access to the secret and to properly generate the
//     shares.
//   - The scheme assumes a passive adversary which can observe (t - 1) shares
//     without learning anything about the secret. Shares carry no
//     authentication: a participant submitting a chosen share at reconstruction
//     time is only caught if it collides with another share's x-coordinate, or,
//     through [Verify], if redundant shares are available.
//
// [Shamir Secret Sharing]: https://web.mit.edu/6.857/OldStuff/Fall03/ref/Shamir-HowToShareAsecrets.pdf
package shamir

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/GoogleCloudPlatform/ballotbox/client/internal/secret_sharing/internal/field/gf8"
	"github.com/GoogleCloudPlatform/ballotbox/client/internal/secret_sharing/secrets"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
)

var (
	// ErrFieldSize is returned when more shares are requested than GF(2^8) has x-coordinates.
	ErrFieldSize = errors.New("cannot have more shareholders than the size of the Galois field")
	// ErrThreshold is returned when the threshold is below 1 or above the number of shares.
	ErrThreshold = errors.New("cannot have fewer shareholders than required parts")
	// ErrConflictingShares is returned when two shares claim the same x-coordinate
	// with different values, or a redundant share is off the polynomial.
	ErrConflictingShares = errors.New("there are conflicting key shares")
	// ErrInsufficientShares is returned when fewer distinct shares than required are supplied.
	ErrInsufficientShares = errors.New("not enough distinct shares")
)

// ValidateMetadata checks that metadata describes a usable sharing.
func ValidateMetadata(md secrets.Metadata) error {
	if md.NumShares > constants.FieldSize {
		return fmt.Errorf("%w: expected %d <= %d", ErrFieldSize, md.NumShares, constants.FieldSize)
	}
	if md.Threshold < 1 {
		return fmt.Errorf("%w: threshold %d must be at least 1", ErrThreshold, md.Threshold)
	}
	if md.NumShares < md.Threshold {
		return fmt.Errorf("%w: expected %d >= %d", ErrThreshold, md.NumShares, md.Threshold)
	}
	return nil
}

// GeneratePoints samples a fresh random polynomial of degree threshold-1 whose
// constant term is secretByte, and returns its points at x = 1..numShares.
// The coefficients are drawn when GeneratePoints is called; the points are
// evaluated lazily as the sequence is consumed.
func GeneratePoints(secretByte byte, numShares, threshold int) (iter.Seq[secrets.Point], error) {
	return generatePoints(secretByte, secrets.Metadata{NumShares: numShares, Threshold: threshold}, rand.Reader)
}

func generatePoints(secretByte byte, md secrets.Metadata, random io.Reader) (iter.Seq[secrets.Point], error) {
	if err := ValidateMetadata(md); err != nil {
		return nil, err
	}
	// secretByte + c[1] * x + ... + c[t-1] * x^(t-1). Coefficients are uniform
	// over the whole field, zero included; excluding zero would make a share
	// leak that it differs from the secret.
	coefficients := make([]byte, md.Threshold)
	coefficients[0] = secretByte
	if _, err := io.ReadFull(random, coefficients[1:]); err != nil {
		return nil, fmt.Errorf("failed to read random coefficients: %v", err)
	}
	n := md.NumShares
	return func(yield func(secrets.Point) bool) {
		for x := 1; x <= n; x++ {
			if !yield(secrets.Point{X: byte(x), Y: evaluatePolynomial(coefficients, byte(x))}) {
				return
			}
		}
	}, nil
}

// evaluates a polynomial at `x` where `coefficients` take the form:
// f(x) = c[n-1] * x^(n-1) + c[n-2] * x^(n-2) + ... + c[1] * x^1 + c[0]
func evaluatePolynomial(coefficients []byte, x byte) byte {
	var sum byte
	for i := len(coefficients) - 1; i > 0; i-- {
		sum = gf8.Multiply(gf8.Add(sum, coefficients[i]), x)
	}
	return gf8.Add(sum, coefficients[0])
}

// SplitSecret splits a secret into metadata.NumShares shares where metadata.Threshold
// or more shares can be combined to reconstruct the original secret.
func SplitSecret(md secrets.Metadata, secret []byte) (secrets.Split, error) {
	return splitSecret(md, secret, rand.Reader)
}

func splitSecret(md secrets.Metadata, secret []byte, random io.Reader) (secrets.Split, error) {
	if len(secret) == 0 {
		return secrets.Split{}, fmt.Errorf("secret must not be empty")
	}
	if err := ValidateMetadata(md); err != nil {
		return secrets.Split{}, err
	}
	shares := make([]secrets.Share, md.NumShares)
	for i := range shares {
		shares[i] = secrets.Share{X: byte(i + 1), Value: make([]byte, 0, len(secret))}
	}
	// shares[0] = [ F1(1), F2(1), ..., FN(1) ]
	// shares[1] = [ F1(2), F2(2), ..., FN(2) ]
	// shares[N - 1] = [ F1(N), F2(N), ..., FN(N) ]
	for _, b := range secret {
		points, err := generatePoints(b, md, random)
		if err != nil {
			return secrets.Split{}, err
		}
		for p := range points {
			shares[p.X-1].Value = append(shares[p.X-1].Value, p.Y)
		}
	}
	return secrets.Split{
		Metadata:  md,
		Shares:    shares,
		SecretLen: len(secret),
	}, nil
}

// ReconstructByte recovers the constant term of the polynomial through points.
// With fewer points than the polynomial's threshold the result is a wrong byte,
// not an error.
func ReconstructByte(points []secrets.Point) (byte, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: no points", ErrInsufficientShares)
	}
	xs := make([]byte, len(points))
	ys := make([]byte, len(points))
	for i, p := range points {
		if p.X == 0 {
			return 0, fmt.Errorf("%w: x-coordinate 0 is reserved", secrets.ErrMalformedShare)
		}
		xs[i], ys[i] = p.X, p.Y
	}
	coefficients, err := lagrangeCoefficients(xs, 0)
	if err != nil {
		return 0, err
	}
	return interpolatePolynomial(coefficients, ys), nil
}

// Reconstruct reconstructs a secret from shares.
//
// Shares repeating an x-coordinate with identical values count once; with
// different values Reconstruct fails with ErrConflictingShares. If threshold is
// positive only the first threshold distinct shares are interpolated, otherwise
// all distinct shares are.
func Reconstruct(shares []secrets.Share, threshold int) ([]byte, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold %d is negative", ErrThreshold, threshold)
	}
	distinct, err := dedupe(shares)
	if err != nil {
		return nil, err
	}
	if threshold > 0 {
		if len(distinct) < threshold {
			return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, threshold, len(distinct))
		}
		distinct = distinct[:threshold]
	}
	return interpolateAt(distinct, 0)
}

// Verify checks that every distinct share beyond the first threshold lies on
// the polynomials defined by the first threshold distinct shares.
func Verify(shares []secrets.Share, threshold int) error {
	if threshold < 1 {
		return fmt.Errorf("%w: threshold %d must be at least 1", ErrThreshold, threshold)
	}
	distinct, err := dedupe(shares)
	if err != nil {
		return err
	}
	if len(distinct) < threshold {
		return fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, threshold, len(distinct))
	}
	base := distinct[:threshold]
	for _, extra := range distinct[threshold:] {
		want, err := interpolateAt(base, extra.X)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare(want, extra.Value) != 1 {
			return fmt.Errorf("%w: share %d is not consistent with the other shares", ErrConflictingShares, extra.X)
		}
	}
	return nil
}

// dedupe validates shares and returns one share per x-coordinate, in order of
// first appearance.
func dedupe(shares []secrets.Share) ([]secrets.Share, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares provided", ErrInsufficientShares)
	}
	valueLen := len(shares[0].Value)
	seen := make(map[byte]int, len(shares))
	distinct := make([]secrets.Share, 0, len(shares))
	for _, s := range shares {
		if s.X == 0 {
			return nil, fmt.Errorf("%w: x-coordinate 0 is reserved", secrets.ErrMalformedShare)
		}
		if len(s.Value) == 0 || len(s.Value) != valueLen {
			return nil, fmt.Errorf("%w: share %d has length %d, want %d", secrets.ErrMalformedShare, s.X, len(s.Value), valueLen)
		}
		if i, ok := seen[s.X]; ok {
			if subtle.ConstantTimeCompare(distinct[i].Value, s.Value) != 1 {
				return nil, fmt.Errorf("%w: two different shares for x-coordinate %d", ErrConflictingShares, s.X)
			}
			continue
		}
		seen[s.X] = len(distinct)
		distinct = append(distinct, s)
	}
	return distinct, nil
}

// interpolateAt evaluates, for every byte position, the polynomial through
// shares at x = at.
func interpolateAt(shares []secrets.Share, at byte) ([]byte, error) {
	xs := make([]byte, len(shares))
	for i, s := range shares {
		xs[i] = s.X
	}
	// The coefficients only depend on the x-coordinates, so they are shared by
	// every byte position.
	coefficients, err := lagrangeCoefficients(xs, at)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(shares[0].Value))
	ys := make([]byte, len(shares))
	for i := range out {
		for j, s := range shares {
			ys[j] = s.Value[i]
		}
		out[i] = interpolatePolynomial(coefficients, ys)
	}
	clear(ys)
	return out, nil
}

// ∑i y[i] * lagrange_coefficient[i]
func interpolatePolynomial(lagCoeff []byte, ys []byte) byte {
	var sum byte
	for i, y := range ys {
		sum = gf8.Add(sum, gf8.Multiply(y, lagCoeff[i]))
	}
	return sum
}

// recovers the coefficients to perform lagrange polynomial interpolation at `at`:
// ∏j≠i ( (at - x[j]) / ( x[i] - x[j] ) )
func lagrangeCoefficients(xs []byte, at byte) ([]byte, error) {
	out := make([]byte, len(xs))
	for i := range xs {
		num, den := byte(1), byte(1)
		for j := range xs {
			if i == j {
				continue
			}
			num = gf8.Multiply(num, gf8.Subtract(at, xs[j]))
			den = gf8.Multiply(den, gf8.Subtract(xs[i], xs[j]))
		}
		c, err := gf8.Divide(num, den)
		if err != nil {
			return nil, fmt.Errorf("all shares should be unique points: %w", err)
		}
		out[i] = c
	}
	return out, nil
}
