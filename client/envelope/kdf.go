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
	"crypto/sha256"
	"fmt"

	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"golang.org/x/crypto/pbkdf2"
)

// Purpose says which direction derived material is used for.
type Purpose int

const (
	// Encrypt derives material for encryption.
	Encrypt Purpose = iota
	// Decrypt derives material for decryption.
	Decrypt
)

func (p Purpose) String() string {
	switch p {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("Purpose(%d)", int(p))
	}
}

// KeyIV is an AES-256 key and a CBC initialization vector.
type KeyIV struct {
	Key [constants.AESKeyBytes]byte
	IV  [constants.IVBytes]byte
}

// DeriveKeyIV derives a key and IV from secret and salt with
// PBKDF2-HMAC-SHA256. The purpose does not change the output.
func DeriveKeyIV(secret, salt []byte, purpose Purpose) (*KeyIV, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("cannot derive %s key from an empty secret", purpose)
	}
	if len(salt) != constants.SaltBytes {
		return nil, fmt.Errorf("%w: salt has length %d, want %d", ErrFormat, len(salt), constants.SaltBytes)
	}
	derived := pbkdf2.Key(secret, salt, constants.PBKDF2Iterations, constants.AESKeyBytes+constants.IVBytes, sha256.New)
	defer clear(derived)

	out := &KeyIV{}
	copy(out.Key[:], derived[:constants.AESKeyBytes])
	copy(out.IV[:], derived[constants.AESKeyBytes:])
	return out, nil
}

// Zero overwrites the key and IV.
func (k *KeyIV) Zero() {
	clear(k.Key[:])
	clear(k.IV[:])
}
