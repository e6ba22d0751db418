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

// Package envelope implements the hybrid encryption used for ballots and for
// the at-rest election private key.
//
// A payload is encrypted with AES-256-CBC under a key and IV derived from a
// fresh random secret and salt (the OpenSSL "Salted__" format, so stock
// `openssl enc -aes-256-cbc -pbkdf2` can open it given the secret). The secret
// itself is then encrypted with RSA-OAEP under the recipient's public key.
package envelope

import "errors"

var (
	// ErrFormat is returned for input that is not a salted ciphertext.
	ErrFormat = errors.New("not a salted ciphertext")
	// ErrDecryption is returned when decryption fails. It does not say which
	// layer failed.
	ErrDecryption = errors.New("decryption failed")
	// ErrKey is returned for key material that cannot be parsed.
	ErrKey = errors.New("invalid key")
)
