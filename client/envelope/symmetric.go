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
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/google/tink/go/subtle/random"
)

// SymmetricEncrypt encrypts plaintext under a fresh random secret. It returns
// the secret and the salted ciphertext: magic, salt, then AES-256-CBC output.
// The caller owns the secret and should zero it once it is wrapped.
func SymmetricEncrypt(plaintext []byte) (secret, salted []byte, err error) {
	secret = random.GetRandomBytes(uint32(constants.SecretBytes))
	salt := random.GetRandomBytes(uint32(constants.SaltBytes))
	salted, err = symmetricEncrypt(plaintext, secret, salt)
	if err != nil {
		clear(secret)
		return nil, nil, err
	}
	return secret, salted, nil
}

func symmetricEncrypt(plaintext, secret, salt []byte) ([]byte, error) {
	kiv, err := DeriveKeyIV(secret, salt, Encrypt)
	if err != nil {
		return nil, err
	}
	defer kiv.Zero()

	block, err := aes.NewCipher(kiv.Key[:])
	if err != nil {
		return nil, fmt.Errorf("unable to create new cipher: %v", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	defer clear(padded)

	out := make([]byte, constants.SaltedHeaderBytes+len(padded))
	copy(out, constants.SaltedMagic[:])
	copy(out[len(constants.SaltedMagic):], salt)
	cipher.NewCBCEncrypter(block, kiv.IV[:]).CryptBlocks(out[constants.SaltedHeaderBytes:], padded)
	return out, nil
}

// SymmetricDecrypt checks the magic tag of salted, re-derives the key and IV
// from secret and the embedded salt, and decrypts. Malformed input is
// ErrFormat; any other failure is ErrDecryption with no further detail.
func SymmetricDecrypt(salted, secret []byte) ([]byte, error) {
	salt, ciphertext, err := splitCiphertext(salted)
	if err != nil {
		return nil, err
	}

	kiv, err := DeriveKeyIV(secret, salt, Decrypt)
	if err != nil {
		return nil, ErrDecryption
	}
	defer kiv.Zero()

	block, err := aes.NewCipher(kiv.Key[:])
	if err != nil {
		return nil, ErrDecryption
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, kiv.IV[:]).CryptBlocks(padded, ciphertext)
	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		clear(padded)
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// splitCiphertext is SplitSalted plus a check that the ciphertext is a
// positive number of AES blocks.
func splitCiphertext(salted []byte) (salt, ciphertext []byte, err error) {
	salt, ciphertext, err = SplitSalted(salted)
	if err != nil {
		return nil, nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrFormat, len(ciphertext), aes.BlockSize)
	}
	return salt, ciphertext, nil
}

// SplitSalted validates the magic tag and returns the salt and ciphertext
// parts of a salted ciphertext. Both alias salted.
func SplitSalted(salted []byte) (salt, ciphertext []byte, err error) {
	if len(salted) < constants.SaltedHeaderBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrFormat, len(salted), constants.SaltedHeaderBytes)
	}
	magic := len(constants.SaltedMagic)
	if !bytes.Equal(salted[:magic], constants.SaltedMagic[:]) {
		return nil, nil, fmt.Errorf("%w: bad magic tag", ErrFormat)
	}
	return salted[magic:constants.SaltedHeaderBytes], salted[constants.SaltedHeaderBytes:], nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

var errBadPadding = errors.New("bad padding")

// pkcs7Unpad checks the padding in time independent of its value.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("bad padded length %d", len(data))
	}
	last := data[len(data)-1]
	n := int(last)
	good := subtle.ConstantTimeLessOrEq(1, n) & subtle.ConstantTimeLessOrEq(n, blockSize)
	for i := 0; i < blockSize; i++ {
		// Byte i from the end is padding when i < n.
		inPad := subtle.ConstantTimeLessOrEq(i+1, n)
		match := subtle.ConstantTimeByteEq(data[len(data)-1-i], last)
		good &= subtle.ConstantTimeSelect(inPad, match, 1)
	}
	if good != 1 {
		return nil, errBadPadding
	}
	return data[:len(data)-n], nil
}
