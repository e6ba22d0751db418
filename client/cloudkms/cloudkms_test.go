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

package cloudkms

import (
	"bytes"
	"context"
	"errors"
	"testing"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/GoogleCloudPlatform/ballotbox/client/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

func TestKeyName(t *testing.T) {
	testCases := []struct {
		uri      string
		wantName string
		wantOK   bool
	}{
		{uri: testutil.TestKEKURI, wantName: testutil.TestKEKName, wantOK: true},
		{uri: "gcp-kms://", wantOK: false},
		{uri: testutil.TestKEKName, wantOK: false},
		{uri: "https://my-kms.io/external-key", wantOK: false},
	}
	for _, tc := range testCases {
		name, ok := KeyName(tc.uri)
		if name != tc.wantName || ok != tc.wantOK {
			t.Errorf("KeyName(%q) = (%q, %v), want (%q, %v)", tc.uri, name, ok, tc.wantName, tc.wantOK)
		}
	}
}

func TestProtectionLevel(t *testing.T) {
	ctx := context.Background()
	fakeKMSClient := &testutil.FakeKeyManagementClient{}

	got, err := ProtectionLevel(ctx, fakeKMSClient, testutil.TestHSMKEKName)
	if err != nil {
		t.Fatalf("ProtectionLevel(%v) = %v error, want nil error", testutil.TestHSMKEKName, err)
	}
	if got != kmspb.ProtectionLevel_HSM {
		t.Errorf("ProtectionLevel(%v) = %v, want %v", testutil.TestHSMKEKName, got, kmspb.ProtectionLevel_HSM)
	}

	if _, err := ProtectionLevel(ctx, fakeKMSClient, testutil.TestDisabledKEKName); !errors.Is(err, ErrKeyDisabled) {
		t.Errorf("ProtectionLevel(%v) = %v, want %v", testutil.TestDisabledKEKName, err, ErrKeyDisabled)
	}

	notFound := &testutil.FakeKeyManagementClient{
		GetCryptoKeyFunc: func(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error) {
			return nil, status.Error(codes.NotFound, "no such key")
		},
	}
	if _, err := ProtectionLevel(ctx, notFound, testutil.TestKEKName); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("ProtectionLevel() = %v, want %v", err, ErrKeyNotFound)
	}
}

func TestWrapKMSKeyPartSucceeds(t *testing.T) {
	testKeyPart := []byte("Food share")
	testCases := []struct {
		name         string
		kekName      string
		expectedWrap []byte
	}{
		{
			name:         "HSM",
			kekName:      testutil.TestHSMKEKName,
			expectedWrap: testutil.FakeKMSWrap(testKeyPart, testutil.TestHSMKEKName),
		},
		{
			name:         "Software",
			kekName:      testutil.TestSoftwareKEKName,
			expectedWrap: testutil.FakeKMSWrap(testKeyPart, testutil.TestSoftwareKEKName),
		},
	}

	ctx := context.Background()
	fakeKMSClient := &testutil.FakeKeyManagementClient{}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			opts := WrapOpts{KeyPart: testKeyPart, KeyName: testCase.kekName}
			wrapped, err := WrapKeyPart(ctx, fakeKMSClient, opts)
			if err != nil {
				t.Fatalf("WrapKeyPart(%v, %v) = %v error, want nil error", testKeyPart, testCase.kekName, err)
			}
			if !bytes.Equal(wrapped, testCase.expectedWrap) {
				t.Errorf("WrapKeyPart(%v, %v) = %v, want %v", testKeyPart, testCase.kekName, wrapped, testCase.expectedWrap)
			}
		})
	}
}

func TestWrapKMSKeyPartFails(t *testing.T) {
	plaintext := []byte("Plaintext")
	testCases := []struct {
		name            string
		encryptResponse *kmspb.EncryptResponse
		encryptError    error
		wantErr         error
	}{
		{
			name: "Plaintext corrupted",
			encryptResponse: &kmspb.EncryptResponse{
				Name:                    testutil.TestKEKName,
				Ciphertext:              []byte("Ciphertext"),
				CiphertextCrc32C:        wrapperspb.Int64(int64(crc32c([]byte("Ciphertext")))),
				VerifiedPlaintextCrc32C: false,
			},
			wantErr: ErrCorrupted,
		},
		{
			name: "Ciphertext corrupted",
			encryptResponse: &kmspb.EncryptResponse{
				Name:                    testutil.TestKEKName,
				Ciphertext:              []byte("Ciphertext"),
				CiphertextCrc32C:        wrapperspb.Int64(10),
				VerifiedPlaintextCrc32C: true,
			},
			wantErr: ErrCorrupted,
		},
		{
			name:         "Permission denied",
			encryptError: status.Error(codes.PermissionDenied, "caller lacks cloudkms.cryptoKeyVersions.useToEncrypt"),
			wantErr:      ErrPermissionDenied,
		},
	}

	ctx := context.Background()

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fakeKMSClient := &testutil.FakeKeyManagementClient{
				EncryptFunc: func(_ context.Context, _ *kmspb.EncryptRequest, _ ...gax.CallOption) (*kmspb.EncryptResponse, error) {
					return testCase.encryptResponse, testCase.encryptError
				},
			}

			opts := WrapOpts{KeyPart: plaintext, KeyName: testutil.TestKEKName}
			if _, err := WrapKeyPart(ctx, fakeKMSClient, opts); !errors.Is(err, testCase.wantErr) {
				t.Errorf("WrapKeyPart(%v, %v) = %v error, want %v", plaintext, testutil.TestKEKName, err, testCase.wantErr)
			}
		})
	}

	t.Run("Service unavailable", func(t *testing.T) {
		fakeKMSClient := &testutil.FakeKeyManagementClient{
			EncryptFunc: func(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error) {
				return nil, errors.New("Service unavailable")
			},
		}
		if _, err := WrapKeyPart(ctx, fakeKMSClient, WrapOpts{KeyPart: plaintext, KeyName: testutil.TestKEKName}); err == nil {
			t.Error("WrapKeyPart() = nil error, want error")
		}
	})

	t.Run("Nil client", func(t *testing.T) {
		if _, err := WrapKeyPart(ctx, nil, WrapOpts{KeyPart: plaintext, KeyName: testutil.TestKEKName}); err == nil {
			t.Error("WrapKeyPart(nil client) = nil error, want error")
		}
	})
}

func TestUnwrapKMSKeyPartSucceeds(t *testing.T) {
	expectedKeyPart := []byte("Google, let me into the office for fooooddd")
	testCases := []struct {
		name    string
		kekName string
	}{
		{"HSM", testutil.TestHSMKEKName},
		{"Software", testutil.TestSoftwareKEKName},
	}

	ctx := context.Background()
	fakeKMSClient := &testutil.FakeKeyManagementClient{}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			wrapped := testutil.FakeKMSWrap(expectedKeyPart, testCase.kekName)

			opts := UnwrapOpts{WrappedKeyPart: wrapped, KeyName: testCase.kekName}
			unwrapped, err := UnwrapKeyPart(ctx, fakeKMSClient, opts)
			if err != nil {
				t.Fatalf("UnwrapKeyPart(ctx, %v, %v) = %v error, want nil error", wrapped, testCase.kekName, err)
			}
			if !bytes.Equal(unwrapped, expectedKeyPart) {
				t.Errorf("UnwrapKeyPart(ctx, %v, %v) = %v, want %v", wrapped, testCase.kekName, unwrapped, expectedKeyPart)
			}
		})
	}
}

func TestUnwrapKMSKeyPartFails(t *testing.T) {
	plaintext := []byte("Plaintext")
	testCases := []struct {
		name            string
		decryptResponse *kmspb.DecryptResponse
		decryptError    error
		wantErr         error
	}{
		{
			name: "Plaintext corrupted",
			decryptResponse: &kmspb.DecryptResponse{
				Plaintext:       []byte("Plaintext"),
				PlaintextCrc32C: wrapperspb.Int64(10),
			},
			wantErr: ErrCorrupted,
		},
		{
			name:         "Not found",
			decryptError: status.Error(codes.NotFound, "CryptoKey not found"),
			wantErr:      ErrKeyNotFound,
		},
		{
			name:         "Unauthenticated",
			decryptError: status.Error(codes.Unauthenticated, "no credentials"),
			wantErr:      ErrPermissionDenied,
		},
	}

	ctx := context.Background()

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fakeKMSClient := &testutil.FakeKeyManagementClient{
				DecryptFunc: func(_ context.Context, _ *kmspb.DecryptRequest, _ ...gax.CallOption) (*kmspb.DecryptResponse, error) {
					return testCase.decryptResponse, testCase.decryptError
				},
			}

			opts := UnwrapOpts{WrappedKeyPart: plaintext, KeyName: testutil.TestKEKName}
			if _, err := UnwrapKeyPart(ctx, fakeKMSClient, opts); !errors.Is(err, testCase.wantErr) {
				t.Errorf("UnwrapKeyPart(ctx, %v, %v) = %v error, want %v", plaintext, testutil.TestKEKName, err, testCase.wantErr)
			}
		})
	}
}

func TestCreateClient(t *testing.T) {
	version := "test"

	expectedOpts := []option.ClientOption{option.WithUserAgent("ballotbox/" + version)}

	testNewKMSClient := func(ctx context.Context, opts ...option.ClientOption) (*kms.KeyManagementClient, error) {
		if len(opts) != len(expectedOpts) {
			t.Fatalf("len(opts) = %v, want %v", len(opts), len(expectedOpts))
		}

		// Check WithUserAgent option.
		if opts[0] != expectedOpts[0] {
			t.Fatalf("opts[0] = %v, want %v", opts[0], expectedOpts[0])
		}

		return &kms.KeyManagementClient{}, nil
	}

	factory := &ClientFactory{
		Version:      version,
		newKMSClient: testNewKMSClient,
	}

	if _, err := factory.createClient(context.Background(), ""); err != nil {
		t.Errorf("createClient returned error: %v", err)
	}
}

func TestCreateClientWithCredentials(t *testing.T) {
	credentials := "credentials: test"
	version := "test"

	expectedOpts := []option.ClientOption{
		option.WithUserAgent("ballotbox/" + version),
		option.WithCredentialsJSON([]byte(credentials)),
	}

	testNewKMSClient := func(ctx context.Context, opts ...option.ClientOption) (*kms.KeyManagementClient, error) {
		if len(opts) != len(expectedOpts) {
			t.Fatalf("len(opts) = %v, want %v", len(opts), len(expectedOpts))
		}

		// Check WithUserAgent option.
		if opts[0] != expectedOpts[0] {
			t.Errorf("opts[0] = %v, want %v", opts[0], expectedOpts[0])
		}

		// Check WithCredentialsJSON option.
		if !cmp.Equal(opts[1], expectedOpts[1]) {
			t.Errorf("opts[1] = %v, want %v", opts[1], expectedOpts[1])
		}

		return &kms.KeyManagementClient{}, nil
	}

	factory := &ClientFactory{
		Version:      version,
		newKMSClient: testNewKMSClient,
	}

	if _, err := factory.createClient(context.Background(), credentials); err != nil {
		t.Errorf("createClient returned error: %v", err)
	}
}

func TestClientFactoryReusesClients(t *testing.T) {
	calls := 0
	factory := &ClientFactory{
		newKMSClient: func(context.Context, ...option.ClientOption) (*kms.KeyManagementClient, error) {
			calls++
			return &kms.KeyManagementClient{}, nil
		},
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := factory.Client(ctx, "creds"); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("newKMSClient called %d times, want 1", calls)
	}
}
