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

// Package client is the client library for ballotbox. It generates and
// reconstructs the split election key, wraps trustee key parts, and encrypts
// and decrypts ballots.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/ballotbox/client/cloudkms"
)

// ErrKeyReconstruction is returned when the reconstructed wrapping secret
// does not unlock the election private key: too few trustees, or a wrong key
// part.
var ErrKeyReconstruction = errors.New("key parts do not unlock the election private key")

// BallotClient wraps and unwraps trustee key parts. The zero value is ready
// to use.
type BallotClient struct {
	// Version is reported in the Cloud KMS user agent.
	Version string

	// Cloud KMS clients, created on first use.
	kmsClients *cloudkms.ClientFactory

	// Fake Cloud KMS clients for testing purposes.
	testKMSClients *cloudkms.ClientFactory
}

// kmsClient returns a Cloud KMS client for the given credentials.
func (c *BallotClient) kmsClient(ctx context.Context, credentials string) (cloudkms.Client, error) {
	if c.testKMSClients != nil {
		return c.testKMSClients.Client(ctx, credentials)
	}
	if c.kmsClients == nil {
		c.kmsClients = cloudkms.NewClientFactory(c.Version)
	}
	client, err := c.kmsClients.Client(ctx, credentials)
	if err != nil {
		return nil, fmt.Errorf("error initializing KMS Client: %v", err)
	}
	return client, nil
}

// Close releases any Cloud KMS clients.
func (c *BallotClient) Close() error {
	if c.kmsClients == nil {
		return nil
	}
	return c.kmsClients.Close()
}
