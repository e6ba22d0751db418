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

// Package testutil contains utilities for unit tests.
package testutil

import (
	"bytes"
	"context"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/googleapis/gax-go/v2"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	// TestKEKName is a test key name for a trustee key.
	TestKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/test"
	// TestKEKURI is a test key URI corresponding to TestKEKName.
	TestKEKURI = constants.GCPKeyPrefix + TestKEKName

	// TestHSMKEKName is a test key name for an HSM-protected trustee key.
	TestHSMKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testHsm"
	// TestHSMKEKURI is a test key URI corresponding to TestHSMKEKName.
	TestHSMKEKURI = constants.GCPKeyPrefix + TestHSMKEKName

	// TestSoftwareKEKName is a test key name for a software-protected trustee key.
	TestSoftwareKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testSoftware"
	// TestSoftwareKEKURI is a test key URI corresponding to TestSoftwareKEKName.
	TestSoftwareKEKURI = constants.GCPKeyPrefix + TestSoftwareKEKName

	// TestDisabledKEKName is a test key name whose primary version is disabled.
	TestDisabledKEKName = "projects/test/locations/test/keyRings/test/cryptoKeys/testDisabled"
	// TestDisabledKEKURI is a test key URI corresponding to TestDisabledKEKName.
	TestDisabledKEKURI = constants.GCPKeyPrefix + TestDisabledKEKName
)

func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}

// CreateCryptoKey creates a fake CryptoKey with the given protection level and state.
func CreateCryptoKey(name string, protectionLevel kmspb.ProtectionLevel, state kmspb.CryptoKeyVersion_CryptoKeyVersionState) *kmspb.CryptoKey {
	return &kmspb.CryptoKey{
		Name: name,
		Primary: &kmspb.CryptoKeyVersion{
			Name:            name + "/cryptoKeyVersions/1",
			State:           state,
			ProtectionLevel: protectionLevel,
		},
	}
}

// FakeKeyManagementClient is a fake version of Cloud KMS Key Management client.
type FakeKeyManagementClient struct {
	kms.KeyManagementClient

	GetCryptoKeyFunc func(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	EncryptFunc      func(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	DecryptFunc      func(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

func fakeKMSProtectionLevel(name string) kmspb.ProtectionLevel {
	switch name {
	case TestHSMKEKName:
		return kmspb.ProtectionLevel_HSM
	case TestSoftwareKEKName, TestDisabledKEKName:
		return kmspb.ProtectionLevel_SOFTWARE
	default:
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED
	}
}

// GetCryptoKey calls GetCryptoKeyFunc if applicable. Otherwise returns an
// enabled key, or a disabled one for TestDisabledKEKName.
func (f *FakeKeyManagementClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...gax.CallOption) (*kmspb.CryptoKey, error) {
	if f.GetCryptoKeyFunc != nil {
		return f.GetCryptoKeyFunc(ctx, req, opts...)
	}

	state := kmspb.CryptoKeyVersion_ENABLED
	if req.GetName() == TestDisabledKEKName {
		state = kmspb.CryptoKeyVersion_DISABLED
	}
	return CreateCryptoKey(req.GetName(), fakeKMSProtectionLevel(req.GetName()), state), nil
}

func fakeKMSMarker(name string) byte {
	switch name {
	case TestHSMKEKName:
		return 'H'
	case TestSoftwareKEKName:
		return 'S'
	default:
		return 'U'
	}
}

// FakeKMSWrap returns a fake wrapped key part.
func FakeKMSWrap(unwrapped []byte, name string) []byte {
	return append(bytes.Clone(unwrapped), fakeKMSMarker(name))
}

// ValidEncryptResponse returns a fake successful response for CloudKMS Encrypt.
func ValidEncryptResponse(req *kmspb.EncryptRequest) *kmspb.EncryptResponse {
	wrapped := FakeKMSWrap(req.GetPlaintext(), req.GetName())

	return &kmspb.EncryptResponse{
		Name:                    req.GetName(),
		Ciphertext:              wrapped,
		CiphertextCrc32C:        wrapperspb.Int64(int64(crc32c(wrapped))),
		VerifiedPlaintextCrc32C: true,
	}
}

// Encrypt calls EncryptFunc if applicable. Otherwise returns a fake Encrypt response.
func (f *FakeKeyManagementClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	if f.EncryptFunc != nil {
		return f.EncryptFunc(ctx, req, opts...)
	}

	return ValidEncryptResponse(req), nil
}

// FakeKMSUnwrap returns a fake unwrapped key part.
func FakeKMSUnwrap(wrapped []byte, name string) []byte {
	if len(wrapped) == 0 || wrapped[len(wrapped)-1] != fakeKMSMarker(name) {
		return []byte("nonsenseee")
	}
	return bytes.Clone(wrapped[:len(wrapped)-1])
}

// ValidDecryptResponse returns a fake successful response for CloudKMS Decrypt.
func ValidDecryptResponse(req *kmspb.DecryptRequest) *kmspb.DecryptResponse {
	unwrapped := FakeKMSUnwrap(req.GetCiphertext(), req.GetName())

	return &kmspb.DecryptResponse{
		Plaintext:       unwrapped,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(unwrapped))),
	}
}

// Decrypt calls DecryptFunc if applicable. Otherwise returns a fake Decrypt response.
func (f *FakeKeyManagementClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if f.DecryptFunc != nil {
		return f.DecryptFunc(ctx, req, opts...)
	}

	return ValidDecryptResponse(req), nil
}

// Close is a no-op. Needed to implement the KMS Client interface.
func (f *FakeKeyManagementClient) Close() error {
	return nil
}
