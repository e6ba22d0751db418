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

package shares

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/google/tink/go/subtle/random"
)

func TestHashShareIsVerifiedByValidateShare(t *testing.T) {
	var share = random.GetRandomBytes(16)

	var hashed = HashShare(share)

	if !ValidateShare(share, hashed) {
		t.Fatalf("Got ValidateShare(share, HashShare(share)) = false, expected true")
	}
}

func TestValidateShareFailsForNonmatchingShareAndHash(t *testing.T) {
	var share1 = random.GetRandomBytes(16)
	var share2 = random.GetRandomBytes(16)

	if ValidateShare(share1, HashShare(share2)) {
		t.Fatalf("Got ValidateShare(share1, HashShare(share2)) = true, expected false")
	}
	if ValidateShare(share2, HashShare(share1)) {
		t.Fatalf("Got ValidateShare(share2, HashShare(share1)) = true, expected false")
	}
}

func TestNewSecret(t *testing.T) {
	a, b := NewSecret(), NewSecret()
	if len(a) != constants.SecretBytes {
		t.Fatalf("len(NewSecret()) = %d, want %d", len(a), constants.SecretBytes)
	}
	if bytes.Equal(a, b) {
		t.Error("two calls to NewSecret() returned the same secret")
	}
}

func TestSplitSharesAndCombineSharesRestoresSecret(t *testing.T) {
	var secret = NewSecret()
	var nShares = 5
	var threshold = 3

	shares, err := SplitShares(secret, nShares, threshold)
	if err != nil {
		t.Fatalf("SplitShares(secret, %d, %d) failed with error %s", nShares, threshold, err)
	}
	if len(shares) != nShares {
		t.Fatalf("SplitShares(secret, %d, %d) returned %d shares, expected %d", nShares, threshold, len(shares), nShares)
	}
	for i, s := range shares {
		if len(s) != len(secret)+1 {
			t.Fatalf("len(shares[%d]) = %d, want %d", i, len(s), len(secret)+1)
		}
		if int(s[0]) != i+1 {
			t.Errorf("shares[%d][0] = %d, want x-coordinate %d", i, s[0], i+1)
		}
	}

	// There are 5*4*3 possible permutations for recombining the secret.
	for i := 0; i < nShares; i++ {
		for j := 0; j < nShares; j++ {
			if j == i {
				continue
			}
			for k := 0; k < nShares; k++ {
				if k == i || k == j {
					continue
				}
				parts := [][]byte{shares[i], shares[j], shares[k]}
				recomb, err := CombineShares(parts, 0)
				if err != nil {
					t.Fatalf("err: %v", err)
				}

				if !bytes.Equal(recomb, secret) {
					t.Fatalf("CombineShares() with indices (i:%d, j:%d, k:%d) did not restore the secret", i, j, k)
				}
			}
		}
	}

	recomb, err := CombineShares(shares, threshold)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recomb, secret) {
		t.Error("CombineShares(all, threshold) did not restore the secret")
	}
	if err := VerifyShares(shares, threshold); err != nil {
		t.Errorf("VerifyShares() err = %v, want nil", err)
	}
}

func TestCombineSharesErrors(t *testing.T) {
	shares, err := SplitShares([]byte("caritat"), 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	conflict := bytes.Clone(shares[0])
	conflict[3] ^= 0xff

	for _, tc := range []struct {
		name    string
		parts   [][]byte
		wantErr error
	}{
		{name: "conflicting", parts: [][]byte{shares[0], shares[1], conflict}, wantErr: ErrConflictingShares},
		{name: "truncated", parts: [][]byte{shares[0], {shares[1][0]}}, wantErr: ErrMalformedShare},
		{name: "zero x", parts: [][]byte{shares[0], append([]byte{0}, shares[1][1:]...)}, wantErr: ErrMalformedShare},
		{name: "empty", parts: nil, wantErr: ErrInsufficientShares},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := CombineShares(tc.parts, 0); !errors.Is(err, tc.wantErr) {
				t.Errorf("CombineShares() err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateParams(t *testing.T) {
	for _, tc := range []struct {
		numShares, threshold int
		wantErr              error
	}{
		{numShares: 1, threshold: 1},
		{numShares: 255, threshold: 255},
		{numShares: 256, threshold: 3, wantErr: ErrFieldSize},
		{numShares: 10, threshold: 25, wantErr: ErrThreshold},
		{numShares: 3, threshold: 0, wantErr: ErrThreshold},
	} {
		t.Run(fmt.Sprintf("%d of %d", tc.threshold, tc.numShares), func(t *testing.T) {
			if err := ValidateParams(tc.numShares, tc.threshold); !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateParams(%d, %d) = %v, want %v", tc.numShares, tc.threshold, err, tc.wantErr)
			}
		})
	}
}

func TestArmorDearmor(t *testing.T) {
	part := random.GetRandomBytes(uint32(constants.SecretBytes + 1))
	armored := Armor(part)

	comment := "I would like to close this vote, here is my key part:\n\n```\n" + armored + "```\n"
	for name, text := range map[string]string{
		"armored":        armored,
		"inside comment": comment,
		"bare base64":    "  " + base64.StdEncoding.EncodeToString(part) + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Dearmor([]byte(text))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, part) {
				t.Errorf("Dearmor() = %x, want %x", got, part)
			}
		})
	}

	if _, err := Dearmor([]byte("definitely not a key part")); !errors.Is(err, ErrMalformedShare) {
		t.Errorf("Dearmor(garbage) err = %v, want %v", err, ErrMalformedShare)
	}
}
