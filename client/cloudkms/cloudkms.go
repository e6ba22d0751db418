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

// Package cloudkms contains utilities for wrapping trustee key parts with Cloud KMS.
package cloudkms

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	wrapperspb "google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	// ErrPermissionDenied is returned when the caller may not use a key.
	ErrPermissionDenied = errors.New("permission denied on Cloud KMS key")
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("Cloud KMS key not found")
	// ErrCorrupted is returned when a CRC32C integrity check fails.
	ErrCorrupted = errors.New("Cloud KMS data corrupted in transit")
	// ErrKeyDisabled is returned when the primary version of a key is not enabled.
	ErrKeyDisabled = errors.New("Cloud KMS key is not enabled")
)

// Client defines an interface compatible with Cloud KMS client.
type Client interface {
	GetCryptoKey(context.Context, *kmspb.GetCryptoKeyRequest, ...gax.CallOption) (*kmspb.CryptoKey, error)
	Encrypt(context.Context, *kmspb.EncryptRequest, ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(context.Context, *kmspb.DecryptRequest, ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

// KeyName returns the Cloud KMS resource name of a gcp-kms:// key URI.
func KeyName(uri string) (string, bool) {
	name, ok := strings.CutPrefix(uri, constants.GCPKeyPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}

// classify maps gRPC failures the operator can act on to sentinel errors.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %v", op, ErrKeyNotFound, err)
	default:
		return fmt.Errorf("%s: %v", op, err)
	}
}

// ProtectionLevel returns the protection level of the primary version of a
// key, failing if that version is not enabled.
func ProtectionLevel(ctx context.Context, client Client, keyName string) (kmspb.ProtectionLevel, error) {
	ck, err := client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: keyName})
	if err != nil {
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, classify("failed to get key", err)
	}
	if ck.GetPrimary().GetState() != kmspb.CryptoKeyVersion_ENABLED {
		return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED, fmt.Errorf("%w: %s is %v", ErrKeyDisabled, keyName, ck.GetPrimary().GetState())
	}
	return ck.GetPrimary().GetProtectionLevel(), nil
}

// WrapOpts contains the key part to wrap and the key to wrap it with.
type WrapOpts struct {
	KeyPart []byte
	KeyName string
	RPCOpts []gax.CallOption
}

// WrapKeyPart uses a KMS client to wrap the given key part using Cloud KMS.
func WrapKeyPart(ctx context.Context, client Client, opts WrapOpts) ([]byte, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client specified")
	}
	req := &kmspb.EncryptRequest{
		Name:            opts.KeyName,
		Plaintext:       opts.KeyPart,
		PlaintextCrc32C: wrapperspb.Int64(int64(crc32c(opts.KeyPart))),
	}

	result, err := client.Encrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, classify("failed to encrypt", err)
	}

	if !result.GetVerifiedPlaintextCrc32C() {
		return nil, fmt.Errorf("Encrypt: %w: request", ErrCorrupted)
	}
	if int64(crc32c(result.GetCiphertext())) != result.GetCiphertextCrc32C().GetValue() {
		return nil, fmt.Errorf("Encrypt: %w: response", ErrCorrupted)
	}
	return result.GetCiphertext(), nil
}

// UnwrapOpts contains the wrapped key part and the key that wrapped it.
type UnwrapOpts struct {
	WrappedKeyPart []byte
	KeyName        string
	RPCOpts        []gax.CallOption
}

// UnwrapKeyPart uses a KMS client to unwrap the given key part using Cloud KMS.
func UnwrapKeyPart(ctx context.Context, client Client, opts UnwrapOpts) ([]byte, error) {
	if client == nil {
		return nil, fmt.Errorf("nil client specified")
	}
	req := &kmspb.DecryptRequest{
		Name:             opts.KeyName,
		Ciphertext:       opts.WrappedKeyPart,
		CiphertextCrc32C: wrapperspb.Int64(int64(crc32c(opts.WrappedKeyPart))),
	}

	result, err := client.Decrypt(ctx, req, opts.RPCOpts...)
	if err != nil {
		return nil, classify("failed to decrypt ciphertext", err)
	}

	if int64(crc32c(result.GetPlaintext())) != result.GetPlaintextCrc32C().GetValue() {
		return nil, fmt.Errorf("Decrypt: %w: response", ErrCorrupted)
	}
	return result.GetPlaintext(), nil
}

// ClientFactory manages singleton instances of KMS Clients mapped to JSON credentials.
type ClientFactory struct {
	CredsMap map[string]Client
	Version  string

	newKMSClient func(context.Context, ...option.ClientOption) (*kms.KeyManagementClient, error)
}

// NewClientFactory initializes a ClientFactory with the provided version.
func NewClientFactory(version string) *ClientFactory {
	return &ClientFactory{
		CredsMap:     make(map[string]Client),
		Version:      version,
		newKMSClient: kms.NewKeyManagementClient,
	}
}

func (m *ClientFactory) createClient(ctx context.Context, credentials string) (Client, error) {
	// Set user agent for Cloud KMS API calls.
	ua := "ballotbox/"
	if m.Version != "" {
		ua += m.Version
	} else {
		ua += "dev"
	}

	opts := []option.ClientOption{option.WithUserAgent(ua)}

	// If credentials were specified, include them in the options.
	if len(credentials) != 0 {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	}

	return m.newKMSClient(ctx, opts...)
}

// Client returns a KMS Client initialized with the provided credentials. If a client
// with these credentials already exists, it returns that.
func (m *ClientFactory) Client(ctx context.Context, credentials string) (Client, error) {
	if m.CredsMap == nil {
		m.CredsMap = make(map[string]Client)
	}
	client, ok := m.CredsMap[credentials]

	if !ok {
		var err error
		client, err = m.createClient(ctx, credentials)
		if err != nil {
			return nil, fmt.Errorf("error creating new KMS client: %v", err)
		}

		m.CredsMap[credentials] = client
	}

	return client, nil
}

// Close iterates through all the clients in the map and closes them.
func (m *ClientFactory) Close() error {
	for _, client := range m.CredsMap {
		if err := client.Close(); err != nil {
			return err
		}
	}
	return nil
}
