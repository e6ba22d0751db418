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
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/GoogleCloudPlatform/ballotbox/client/testutil"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/google/go-cmp/cmp"
	"github.com/google/tink/go/subtle/random"
)

// Produced with:
//
//	printf 'ballot for candidate A' | openssl enc -aes-256-cbc -pbkdf2 -iter 10000 \
//	  -md sha256 -pass pass:correct-horse-battery-staple -S 0102030405060708
//
// and the secret wrapped with `openssl pkeyutl -encrypt` (OAEP, SHA-256) under
// testutil.TestPublicPEM.
const (
	opensslSecret          = "correct-horse-battery-staple"
	opensslSalt            = "0102030405060708"
	opensslKey             = "574f4ba40d4968c54b6bcebd5007ede53b18d0832f0ed5edcac45ea2afa74c6d"
	opensslIV              = "57881fd6ef85de23f1d70baf7eb16848"
	opensslCiphertext      = "0357ff70532e0f0f357057c5c7f80fb1e8216ee4cdab60899f7ae9a99fd4c485"
	opensslPlaintext       = "ballot for candidate A"
	opensslEncryptedSecret = "FJKO/e0tAaDS2XERmGx8lpqOkhMyESQfIAn0UAITtiMtdwMLZf/8Zmn847Y1U00LISikabXk5NHi7OXz3FB10Yx/s8MnMD/iUtm3JECC4pt4zWysulrxf2YFa5Zrdwz86UmsKQAZ39AZCtLLiqlSvPikaXhTw1cBX8DyblhLS5qM2ZWLwXmXlHV4LZQb+cKrxiAyI0ip+3up7WPI36R23T2KOuxBgD4ORegqxLY+cwez9+0a+Pz5Q/2ZcjrtpE4LYaHv0APy5mRO7bVezsSP3M041sRQlpl1hDw4ncw8/8NvS1U7BcEM4CRHzs/1mLumB60jaEDWdq0KkgivNHePog=="
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func opensslSalted(t *testing.T) []byte {
	t.Helper()
	out := append([]byte("Salted__"), mustHex(t, opensslSalt)...)
	return append(out, mustHex(t, opensslCiphertext)...)
}

func TestDeriveKeyIVMatchesOpenSSL(t *testing.T) {
	for _, purpose := range []Purpose{Encrypt, Decrypt} {
		t.Run(purpose.String(), func(t *testing.T) {
			kiv, err := DeriveKeyIV([]byte(opensslSecret), mustHex(t, opensslSalt), purpose)
			if err != nil {
				t.Fatalf("DeriveKeyIV() failed: %v", err)
			}
			if got := hex.EncodeToString(kiv.Key[:]); got != opensslKey {
				t.Errorf("key = %s, want %s", got, opensslKey)
			}
			if got := hex.EncodeToString(kiv.IV[:]); got != opensslIV {
				t.Errorf("iv = %s, want %s", got, opensslIV)
			}
		})
	}
}

func TestDeriveKeyIVDependsOnSalt(t *testing.T) {
	secret := random.GetRandomBytes(uint32(constants.SecretBytes))
	a, err := DeriveKeyIV(secret, []byte("saltsalt"), Encrypt)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveKeyIV(secret, []byte("pepper!!"), Encrypt)
	if err != nil {
		t.Fatal(err)
	}
	if a.Key == b.Key || a.IV == b.IV {
		t.Errorf("DeriveKeyIV() returned the same material for different salts")
	}
}

func TestDeriveKeyIVErrors(t *testing.T) {
	if _, err := DeriveKeyIV(nil, []byte("saltsalt"), Encrypt); err == nil {
		t.Error("DeriveKeyIV(nil secret) = nil error, want error")
	}
	if _, err := DeriveKeyIV([]byte("s"), []byte("salt"), Encrypt); !errors.Is(err, ErrFormat) {
		t.Errorf("DeriveKeyIV(short salt) = %v, want %v", err, ErrFormat)
	}
}

func TestSymmetricEncryptMatchesOpenSSL(t *testing.T) {
	got, err := symmetricEncrypt([]byte(opensslPlaintext), []byte(opensslSecret), mustHex(t, opensslSalt))
	if err != nil {
		t.Fatalf("symmetricEncrypt() failed: %v", err)
	}
	if want := opensslSalted(t); !bytes.Equal(got, want) {
		t.Errorf("symmetricEncrypt() = %x, want %x", got, want)
	}

	plaintext, err := SymmetricDecrypt(opensslSalted(t), []byte(opensslSecret))
	if err != nil {
		t.Fatalf("SymmetricDecrypt() failed: %v", err)
	}
	if string(plaintext) != opensslPlaintext {
		t.Errorf("SymmetricDecrypt() = %q, want %q", plaintext, opensslPlaintext)
	}
}

func TestSymmetricRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 1217, 100000} {
		plaintext := random.GetRandomBytes(uint32(size))
		secret, salted, err := SymmetricEncrypt(plaintext)
		if err != nil {
			t.Fatalf("SymmetricEncrypt(%d bytes) failed: %v", size, err)
		}
		if len(secret) != constants.SecretBytes {
			t.Errorf("len(secret) = %d, want %d", len(secret), constants.SecretBytes)
		}
		if !bytes.HasPrefix(salted, constants.SaltedMagic[:]) {
			t.Errorf("salted ciphertext does not start with the magic tag")
		}
		got, err := SymmetricDecrypt(salted, secret)
		if err != nil {
			t.Fatalf("SymmetricDecrypt() failed: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("SymmetricDecrypt(SymmetricEncrypt(%d bytes)) did not restore the plaintext", size)
		}
	}
}

func TestSymmetricEncryptUsesFreshSalt(t *testing.T) {
	_, a, err := SymmetricEncrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	_, b, err := SymmetricEncrypt([]byte("same"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a[8:16], b[8:16]) {
		t.Error("two encryptions used the same salt")
	}
}

func TestSymmetricDecryptErrors(t *testing.T) {
	salted := opensslSalted(t)

	badMagic := bytes.Clone(salted)
	badMagic[0] = 's'

	truncated := salted[:len(salted)-3]

	wrongSecret := []byte("incorrect-horse-battery-staple")

	testCases := []struct {
		name    string
		salted  []byte
		secret  []byte
		wantErr error
	}{
		{name: "bad magic", salted: badMagic, secret: []byte(opensslSecret), wantErr: ErrFormat},
		{name: "shorter than header", salted: salted[:10], secret: []byte(opensslSecret), wantErr: ErrFormat},
		{name: "header only", salted: salted[:16], secret: []byte(opensslSecret), wantErr: ErrFormat},
		{name: "not block aligned", salted: truncated, secret: []byte(opensslSecret), wantErr: ErrFormat},
		{name: "plain text", salted: []byte("this is definitely not encrypted data"), secret: []byte(opensslSecret), wantErr: ErrFormat},
		{name: "empty secret", salted: salted, secret: nil, wantErr: ErrDecryption},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SymmetricDecrypt(tc.salted, tc.secret)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("SymmetricDecrypt() = %v, want %v", err, tc.wantErr)
			}
			if got != nil {
				t.Errorf("SymmetricDecrypt() returned %d bytes of output alongside an error", len(got))
			}
		})
	}

	// A wrong secret almost always fails the padding check. When it happens
	// to produce valid padding the output must still differ.
	got, err := SymmetricDecrypt(salted, wrongSecret)
	if err == nil && string(got) == opensslPlaintext {
		t.Error("SymmetricDecrypt() with the wrong secret restored the plaintext")
	}
	if err != nil && !errors.Is(err, ErrDecryption) {
		t.Errorf("SymmetricDecrypt() with the wrong secret = %v, want %v", err, ErrDecryption)
	}
}

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 32; n++ {
		data := bytes.Repeat([]byte{0xab}, n)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 || len(padded) <= n {
			t.Fatalf("pkcs7Pad(%d bytes) has length %d", n, len(padded))
		}
		got, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("pkcs7Unpad() failed: %v", err)
		}
		if diff := cmp.Diff(data, got); diff != "" {
			t.Errorf("pkcs7Unpad(pkcs7Pad(%d bytes)) mismatch (-want +got):\n%s", n, diff)
		}
	}

	for name, padded := range map[string][]byte{
		"zero pad":     append(bytes.Repeat([]byte{1}, 15), 0),
		"pad too long": append(bytes.Repeat([]byte{1}, 15), 17),
		"inconsistent": append(bytes.Repeat([]byte{1}, 14), 3, 2),
		"pad 255":      append(bytes.Repeat([]byte{255}, 15), 255),
		"one bad byte": append(append(bytes.Repeat([]byte{1}, 8), 7, 8, 8, 8, 8, 8, 8), 8),
		"unaligned":    {1, 1, 1},
	} {
		if _, err := pkcs7Unpad(padded, 16); err == nil {
			t.Errorf("pkcs7Unpad(%s) = nil error, want error", name)
		}
	}
}

func TestDecryptDataMatchesOpenSSL(t *testing.T) {
	encryptedSecret, err := base64.StdEncoding.DecodeString(opensslEncryptedSecret)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptData(opensslSalted(t), encryptedSecret, []byte(testutil.TestPrivatePEM))
	if err != nil {
		t.Fatalf("DecryptData() failed: %v", err)
	}
	if string(got) != opensslPlaintext {
		t.Errorf("DecryptData() = %q, want %q", got, opensslPlaintext)
	}
}

func TestEncryptDataDecryptDataRoundTrip(t *testing.T) {
	pub, err := ParsePublicKey([]byte(testutil.TestPublicPEM))
	if err != nil {
		t.Fatal(err)
	}
	spki, err := MarshalPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := ParsePrivateKey([]byte(testutil.TestPrivatePEM))
	if err != nil {
		t.Fatal(err)
	}
	pkcs8, err := MarshalPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name      string
		plaintext []byte
		pub       []byte
		priv      []byte
	}{
		{name: "DER keys", plaintext: []byte("author: alice\npreferences: []\n"), pub: spki, priv: pkcs8},
		{name: "PEM keys", plaintext: []byte("{}"), pub: []byte(testutil.TestPublicPEM), priv: []byte(testutil.TestPrivatePEM)},
		{name: "empty", plaintext: []byte{}, pub: spki, priv: pkcs8},
		{name: "large", plaintext: random.GetRandomBytes(65536), pub: spki, priv: pkcs8},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := EncryptData(tc.plaintext, tc.pub)
			if err != nil {
				t.Fatalf("EncryptData() failed: %v", err)
			}
			if len(sealed.EncryptedSecret) != 256 {
				t.Errorf("len(EncryptedSecret) = %d, want 256", len(sealed.EncryptedSecret))
			}
			got, err := DecryptData(sealed.SaltedCiphertext, sealed.EncryptedSecret, tc.priv)
			if err != nil {
				t.Fatalf("DecryptData() failed: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Errorf("DecryptData(EncryptData(p)) != p")
			}
		})
	}
}

func TestDecrypterErrors(t *testing.T) {
	priv, err := ParsePrivateKey([]byte(testutil.TestPrivatePEM))
	if err != nil {
		t.Fatal(err)
	}
	other, err := ParsePrivateKey([]byte(testutil.TestPrivatePEM2))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal([]byte("vote"), &priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	tamperedSecret := bytes.Clone(sealed.EncryptedSecret)
	tamperedSecret[10] ^= 1
	badPadding := badPaddingCiphertext(t, sealed.EncryptedSecret, priv)

	testCases := []struct {
		name            string
		key             *rsa.PrivateKey
		salted          []byte
		encryptedSecret []byte
		wantErr         error
	}{
		{name: "wrong key", key: other, salted: sealed.SaltedCiphertext, encryptedSecret: sealed.EncryptedSecret, wantErr: ErrDecryption},
		{name: "tampered secret", key: priv, salted: sealed.SaltedCiphertext, encryptedSecret: tamperedSecret, wantErr: ErrDecryption},
		{name: "bad padding", key: priv, salted: badPadding, encryptedSecret: sealed.EncryptedSecret, wantErr: ErrDecryption},
		{name: "not salted", key: priv, salted: []byte("plain old data"), encryptedSecret: sealed.EncryptedSecret, wantErr: ErrFormat},
		{name: "not block aligned", key: priv, salted: sealed.SaltedCiphertext[:len(sealed.SaltedCiphertext)-1], encryptedSecret: tamperedSecret, wantErr: ErrFormat},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDecrypter(tc.key).Decrypt(tc.salted, tc.encryptedSecret); !errors.Is(err, tc.wantErr) {
				t.Errorf("Decrypt() = %v, want %v", err, tc.wantErr)
			}
		})
	}

	// Both layers fail with the same error, so callers cannot tell them apart.
	d := NewDecrypter(priv)
	_, asymErr := d.Decrypt(sealed.SaltedCiphertext, tamperedSecret)
	_, symErr := d.Decrypt(badPadding, sealed.EncryptedSecret)
	if asymErr == nil || symErr == nil {
		t.Fatalf("Decrypt() errors = (%v, %v), want two errors", asymErr, symErr)
	}
	if asymErr != symErr || asymErr.Error() != symErr.Error() {
		t.Errorf("Decrypt() errors differ by layer: asymmetric %q, symmetric %q", asymErr, symErr)
	}
	if _, err := SymmetricDecrypt(sealed.SaltedCiphertext, nil); err != ErrDecryption {
		t.Errorf("SymmetricDecrypt(empty secret) = %q, want %q", err, ErrDecryption)
	}
}

// badPaddingCiphertext returns a salted ciphertext under the secret wrapped in
// encryptedSecret whose last plaintext byte is not valid PKCS#7 padding.
func badPaddingCiphertext(t *testing.T, encryptedSecret []byte, key *rsa.PrivateKey) []byte {
	t.Helper()
	secret, err := AsymmetricDecrypt(encryptedSecret, key)
	if err != nil {
		t.Fatal(err)
	}
	salt := bytes.Repeat([]byte{7}, constants.SaltBytes)
	kiv, err := DeriveKeyIV(secret, salt, Encrypt)
	if err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher(kiv.Key[:])
	if err != nil {
		t.Fatal(err)
	}
	plaintext := append(bytes.Repeat([]byte{'v'}, aes.BlockSize-1), 0)
	out := append(append([]byte{}, constants.SaltedMagic[:]...), salt...)
	ciphertext := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, kiv.IV[:]).CryptBlocks(ciphertext, plaintext)
	return append(out, ciphertext...)
}

func TestAsymmetricRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, constants.RSAKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	secret := random.GetRandomBytes(uint32(constants.SecretBytes))
	wrapped, err := AsymmetricEncrypt(secret, &key.PublicKey)
	if err != nil {
		t.Fatalf("AsymmetricEncrypt() failed: %v", err)
	}
	got, err := AsymmetricDecrypt(wrapped, key)
	if err != nil {
		t.Fatalf("AsymmetricDecrypt() failed: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Error("AsymmetricDecrypt(AsymmetricEncrypt(secret)) != secret")
	}
}
