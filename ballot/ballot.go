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

// Package ballot defines the files an election is made of: the vote file
// describing the election and its custody material, the ballot a voter fills
// in, and the encrypted ballot that is committed in its place.
package ballot

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// ErrFormat is returned for files that cannot be parsed.
var ErrFormat = errors.New("malformed election file")

// WrappedKeyPart is one trustee's key part, encrypted to that trustee.
type WrappedKeyPart struct {
	Trustee string `json:"trustee"`
	// URI is the Cloud KMS key URI for KMS-wrapped parts, empty for RSA.
	URI string `json:"uri,omitempty"`
	// Wrapped is the encrypted key part.
	Wrapped []byte `json:"wrapped"`
	// Hash is the SHA-256 of the unwrapped key part.
	Hash []byte `json:"hash"`
}

// VoteFile is the vote.yml committed when an election opens.
type VoteFile struct {
	ElectionID         string   `json:"electionId,omitempty"`
	Subject            string   `json:"subject"`
	HeaderInstructions string   `json:"headerInstructions,omitempty"`
	FooterInstructions string   `json:"footerInstructions,omitempty"`
	Method             string   `json:"method,omitempty"`
	Candidates         []string `json:"candidates"`
	AllowedVoters      []string `json:"allowedVoters,omitempty"`
	// Threshold is the number of key parts needed to reconstruct the key.
	Threshold int `json:"threshold"`
	// PublicKey is the PEM encoded election public key.
	PublicKey string `json:"publicKey"`
	// EncryptedPrivateKey is the base64 salted ciphertext of the PKCS#8 private key.
	EncryptedPrivateKey string           `json:"encryptedPrivateKey"`
	Shares              []WrappedKeyPart `json:"shares"`
	// Checksum is the checksum of the blank ballot; see PoolChecksum.
	Checksum string `json:"checksum,omitempty"`
}

// Preference is a voter's score for one candidate. Score holds whatever the
// voter wrote: a json.Number for numbers, nil when missing.
type Preference struct {
	Title string `json:"title"`
	Score any    `json:"score,omitempty"`
}

// BallotFile is the ballot.yml a voter fills in and encrypts.
type BallotFile struct {
	Author       string       `json:"author,omitempty"`
	PoolChecksum string       `json:"poolChecksum"`
	Preferences  []Preference `json:"preferences"`
}

// EncryptedBallot is the JSON committed in place of a ballot.
type EncryptedBallot struct {
	EncryptedSecret []byte `json:"encryptedSecret"`
	Data            []byte `json:"data"`
}

func useNumber(d *json.Decoder) *json.Decoder {
	d.UseNumber()
	return d
}

// ParseVoteFile parses a vote.yml.
func ParseVoteFile(yamlBytes []byte) (*VoteFile, error) {
	v := &VoteFile{}
	if err := yaml.Unmarshal(yamlBytes, v); err != nil {
		return nil, fmt.Errorf("%w: vote file: %v", ErrFormat, err)
	}
	if len(v.Candidates) == 0 {
		return nil, fmt.Errorf("%w: vote file lists no candidates", ErrFormat)
	}
	return v, nil
}

// LoadVoteFile reads and parses the vote.yml at path.
func LoadVoteFile(path string) (*VoteFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vote file: %v", err)
	}
	return ParseVoteFile(b)
}

// Marshal returns the YAML encoding of v.
func (v *VoteFile) Marshal() ([]byte, error) {
	return yaml.Marshal(v)
}

// EncryptedPrivateKeyBytes decodes EncryptedPrivateKey.
func (v *VoteFile) EncryptedPrivateKeyBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(v.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptedPrivateKey is not base64: %v", ErrFormat, err)
	}
	return b, nil
}

// ParseBallotFile parses a ballot.yml. Scores are kept as written.
func ParseBallotFile(yamlBytes []byte) (*BallotFile, error) {
	b := &BallotFile{}
	if err := yaml.Unmarshal(yamlBytes, b, useNumber); err != nil {
		return nil, fmt.Errorf("%w: ballot file: %v", ErrFormat, err)
	}
	return b, nil
}

// Marshal returns the YAML encoding of b.
func (b *BallotFile) Marshal() ([]byte, error) {
	return yaml.Marshal(b)
}

// ParseEncryptedBallot parses an encrypted ballot. A leading byte order mark
// is ignored.
func ParseEncryptedBallot(data []byte) (*EncryptedBallot, error) {
	data = trimBOM(data)
	e := &EncryptedBallot{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("%w: encrypted ballot: %v", ErrFormat, err)
	}
	if len(e.EncryptedSecret) == 0 || len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: encrypted ballot is missing encryptedSecret or data", ErrFormat)
	}
	return e, nil
}

// Marshal returns the JSON encoding of e.
func (e *EncryptedBallot) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Checksum returns the base64 SHA-512 of data.
func Checksum(data []byte) string {
	sum := sha512.Sum512(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// BlankBallot returns the ballot voters fill in: every candidate with score 0.
// PoolChecksum is set from v.Checksum.
func BlankBallot(v *VoteFile) *BallotFile {
	b := &BallotFile{
		PoolChecksum: v.Checksum,
		Preferences:  make([]Preference, 0, len(v.Candidates)),
	}
	for _, c := range v.Candidates {
		b.Preferences = append(b.Preferences, Preference{Title: c, Score: json.Number("0")})
	}
	return b
}

// PoolChecksum returns the checksum binding ballots to v: the Checksum of the
// blank ballot for v's subject and candidates, marshalled without a pool
// checksum.
func PoolChecksum(v *VoteFile) (string, error) {
	pool := struct {
		ElectionID string      `json:"electionId,omitempty"`
		Subject    string      `json:"subject"`
		Ballot     *BallotFile `json:"ballot"`
	}{ElectionID: v.ElectionID, Subject: v.Subject, Ballot: BlankBallot(&VoteFile{Candidates: v.Candidates})}
	b, err := yaml.Marshal(pool)
	if err != nil {
		return "", fmt.Errorf("failed to marshal blank ballot: %v", err)
	}
	return Checksum(b), nil
}

// BlankBallotYAML renders the blank ballot with the vote's instructions as
// comments.
func BlankBallotYAML(v *VoteFile) ([]byte, error) {
	body, err := BlankBallot(v).Marshal()
	if err != nil {
		return nil, err
	}
	var out []byte
	out = appendComment(out, v.HeaderInstructions)
	out = append(out, body...)
	out = appendComment(out, v.FooterInstructions)
	return out, nil
}

func appendComment(out []byte, text string) []byte {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return out
	}
	for _, line := range strings.Split(text, "\n") {
		out = append(out, "# "...)
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}
