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

import "crypto/rsa"

// Sealed is the output of EncryptData.
type Sealed struct {
	// EncryptedSecret is the wrapping secret encrypted to the recipient.
	EncryptedSecret []byte
	// SaltedCiphertext is the payload encrypted under the wrapping secret.
	SaltedCiphertext []byte
}

// EncryptData encrypts plaintext to the SPKI (DER or PEM) public key publicKeyRaw.
func EncryptData(plaintext, publicKeyRaw []byte) (*Sealed, error) {
	key, err := ParsePublicKey(publicKeyRaw)
	if err != nil {
		return nil, err
	}
	return Seal(plaintext, key)
}

// Seal encrypts plaintext to key.
func Seal(plaintext []byte, key *rsa.PublicKey) (*Sealed, error) {
	secret, salted, err := SymmetricEncrypt(plaintext)
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	encryptedSecret, err := AsymmetricEncrypt(secret, key)
	if err != nil {
		return nil, err
	}
	return &Sealed{EncryptedSecret: encryptedSecret, SaltedCiphertext: salted}, nil
}

// DecryptData reverses EncryptData with the PKCS#8 (DER or PEM) private key privateKeyRaw.
func DecryptData(saltedCiphertext, encryptedSecret, privateKeyRaw []byte) ([]byte, error) {
	key, err := ParsePrivateKey(privateKeyRaw)
	if err != nil {
		return nil, err
	}
	return NewDecrypter(key).Decrypt(saltedCiphertext, encryptedSecret)
}

// Decrypter decrypts many envelopes with one parsed private key. It is safe
// for concurrent use.
type Decrypter struct {
	key *rsa.PrivateKey
}

// NewDecrypter returns a Decrypter for key.
func NewDecrypter(key *rsa.PrivateKey) *Decrypter {
	return &Decrypter{key: key}
}

// PublicKey returns the public half of the decryption key.
func (d *Decrypter) PublicKey() *rsa.PublicKey {
	return &d.key.PublicKey
}

// Decrypt unwraps encryptedSecret and decrypts saltedCiphertext with it.
// Format problems are reported as ErrFormat before any key operation. Every
// cryptographic failure is the bare ErrDecryption, whichever layer failed.
func (d *Decrypter) Decrypt(saltedCiphertext, encryptedSecret []byte) ([]byte, error) {
	if _, _, err := splitCiphertext(saltedCiphertext); err != nil {
		return nil, err
	}
	secret, err := AsymmetricDecrypt(encryptedSecret, d.key)
	if err != nil {
		return nil, ErrDecryption
	}
	defer clear(secret)

	plaintext, err := SymmetricDecrypt(saltedCiphertext, secret)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
