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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// AsymmetricEncrypt wraps secret with RSA-OAEP (SHA-256, empty label).
func AsymmetricEncrypt(secret []byte, key *rsa.PublicKey) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting secret: %v", err)
	}
	return ciphertext, nil
}

// AsymmetricDecrypt unwraps a secret wrapped by AsymmetricEncrypt.
func AsymmetricDecrypt(ciphertext []byte, key *rsa.PrivateKey) ([]byte, error) {
	secret, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return secret, nil
}
