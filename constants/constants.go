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

// Package constants contains constants shared between the ballotbox library and CLI.
package constants

// SaltedMagic is the 8 byte tag opening every salted ciphertext ("Salted__").
// It is the same tag `openssl enc` writes, so envelopes can be opened with
// stock OpenSSL given the secret.
var SaltedMagic = [8]byte{'S', 'a', 'l', 't', 'e', 'd', '_', '_'}

const (
	// SaltBytes is the size of the random salt following SaltedMagic.
	SaltBytes = 8

	// SaltedHeaderBytes is the size of SaltedMagic plus the salt.
	SaltedHeaderBytes = len(SaltedMagic) + SaltBytes

	// SecretBytes is the size of a freshly generated wrapping secret.
	SecretBytes = 128

	// PBKDF2Iterations is the iteration count for deriving key and IV
	// (matches `openssl enc -pbkdf2`).
	PBKDF2Iterations = 10000

	// AESKeyBytes is the size of the derived AES-256 key.
	AESKeyBytes = 32

	// IVBytes is the size of the derived CBC initialization vector.
	IVBytes = 16

	// RSAKeyBits is the modulus size of a generated election key pair.
	RSAKeyBits = 2048

	// FieldSize is the number of usable x-coordinates in GF(2^8); zero is reserved.
	FieldSize = 255
)

const (
	// KeyPartPEMType is the armor label for a revealed trustee key part.
	KeyPartPEMType = "SHAMIR KEY PART"

	// GCPKeyPrefix identifies Cloud KMS key URIs, from https://developers.google.com/tink/get-key-uri
	GCPKeyPrefix = "gcp-kms://"

	// DefaultParallelism bounds concurrent ballot decryption when unset in config.
	DefaultParallelism = 8
)
