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

package ballot

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// maxSafeInteger is the largest integer every counting implementation can
// represent exactly (2^53 - 1).
const maxSafeInteger = 1<<53 - 1

// ChecksumMismatch reports a ballot cast against a different pool.
type ChecksumMismatch struct {
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// InvalidationReason lists every reason a ballot is invalid. Only the
// populated fields apply.
type InvalidationReason struct {
	InvalidChecksum             *ChecksumMismatch `json:"invalidChecksum,omitempty"`
	MissingAuthor               bool              `json:"missingAuthor,omitempty"`
	MissingCandidates           []string          `json:"missingCandidates,omitempty"`
	CandidatesWithInvalidScores []Preference      `json:"candidatesWithInvalidScores,omitempty"`
}

// String summarizes the reasons on one line.
func (r *InvalidationReason) String() string {
	var parts []string
	if r.InvalidChecksum != nil {
		parts = append(parts, fmt.Sprintf("pool checksum %q does not match %q", r.InvalidChecksum.Actual, r.InvalidChecksum.Expected))
	}
	if r.MissingAuthor {
		parts = append(parts, "missing author")
	}
	if len(r.MissingCandidates) > 0 {
		parts = append(parts, fmt.Sprintf("missing candidates %q", r.MissingCandidates))
	}
	if len(r.CandidatesWithInvalidScores) > 0 {
		titles := make([]string, 0, len(r.CandidatesWithInvalidScores))
		for _, p := range r.CandidatesWithInvalidScores {
			titles = append(titles, p.Title)
		}
		parts = append(parts, fmt.Sprintf("invalid scores for %q", titles))
	}
	return strings.Join(parts, "; ")
}

// ReasonToInvalidate checks ballot against vote and returns why it is
// invalid, or nil if it is valid. author is the committer of the ballot and
// may be empty; the ballot is only missing an author if both are empty.
// Preferences for candidates not in the vote are ignored.
func ReasonToInvalidate(ballot *BallotFile, vote *VoteFile, author string) *InvalidationReason {
	var reason *InvalidationReason
	get := func() *InvalidationReason {
		if reason == nil {
			reason = &InvalidationReason{}
		}
		return reason
	}

	if ballot.PoolChecksum != vote.Checksum {
		get().InvalidChecksum = &ChecksumMismatch{Expected: vote.Checksum, Actual: ballot.PoolChecksum}
	}
	if author == "" && ballot.Author == "" {
		get().MissingAuthor = true
	}
	for _, c := range vote.Candidates {
		if !slices.ContainsFunc(ballot.Preferences, func(p Preference) bool { return p.Title == c }) {
			get().MissingCandidates = append(get().MissingCandidates, c)
		}
	}
	for _, p := range ballot.Preferences {
		if !IsValidScore(p.Score) {
			get().CandidatesWithInvalidScores = append(get().CandidatesWithInvalidScores, p)
		}
	}
	return reason
}

// IsValidScore reports whether score is an integer in the safe range
// [-(2^53 - 1), 2^53 - 1].
func IsValidScore(score any) bool {
	var f float64
	switch s := score.(type) {
	case json.Number:
		v, err := strconv.ParseFloat(string(s), 64)
		if err != nil {
			return false
		}
		f = v
	case float64:
		f = s
	case int:
		f = float64(s)
	case int64:
		f = float64(s)
	default:
		return false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return false
	}
	return math.Abs(f) <= maxSafeInteger
}

// IntScore returns the integer value of a valid score.
func (p Preference) IntScore() (int64, error) {
	if !IsValidScore(p.Score) {
		return 0, fmt.Errorf("%w: score of %q is not an integer: %v", ErrFormat, p.Title, p.Score)
	}
	switch s := p.Score.(type) {
	case json.Number:
		f, _ := strconv.ParseFloat(string(s), 64)
		return int64(f), nil
	case float64:
		return int64(s), nil
	case int:
		return int64(s), nil
	default:
		return p.Score.(int64), nil
	}
}
