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

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/ballotbox/ballot"
	"github.com/GoogleCloudPlatform/ballotbox/client/envelope"
	"github.com/GoogleCloudPlatform/ballotbox/constants"
	glog "github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// EncryptBallot encrypts a filled-in ballot to the election public key
// (SPKI DER or PEM).
func EncryptBallot(plaintext, publicKeyRaw []byte) (*ballot.EncryptedBallot, error) {
	sealed, err := envelope.EncryptData(plaintext, publicKeyRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt ballot: %w", err)
	}
	return &ballot.EncryptedBallot{EncryptedSecret: sealed.EncryptedSecret, Data: sealed.SaltedCiphertext}, nil
}

// DecryptBallot decrypts one encrypted ballot. A nil ballot, one that failed
// to parse, is ballot.ErrFormat.
func (k *ReconstructedKey) DecryptBallot(e *ballot.EncryptedBallot) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: missing encrypted ballot", ballot.ErrFormat)
	}
	return k.Decrypt(e.Data, e.EncryptedSecret)
}

var errNotAttempted = errors.New("ballot decryption was cancelled before this ballot was attempted")

// DecryptResult is the outcome of decrypting one ballot.
type DecryptResult struct {
	Plaintext []byte
	Err       error
}

// DecryptBallots decrypts ballots concurrently, at most parallelism at a
// time (constants.DefaultParallelism if not positive). Results are in input
// order; a ballot that fails to decrypt only fails its own result.
// Ballots not attempted because ctx is done carry an error too. The
// returned error is set only if ctx is done before every ballot was tried.
func DecryptBallots(ctx context.Context, key *ReconstructedKey, ballots []*ballot.EncryptedBallot, parallelism int) ([]DecryptResult, error) {
	if parallelism <= 0 {
		parallelism = constants.DefaultParallelism
	}
	results := make([]DecryptResult, len(ballots))
	for i := range results {
		results[i].Err = errNotAttempted
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, b := range ballots {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			plaintext, err := key.DecryptBallot(b)
			if err != nil {
				glog.Warningf("Ballot #%d could not be decrypted: %v", i+1, err)
			}
			results[i] = DecryptResult{Plaintext: plaintext, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
