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

// Package gf8 implements arithmetic in the field GF(2^8) over the irreducible
// polynomial x^8 + x^4 + x^3 + x^2 + 1 (0x11D).
//
// Shares are exchanged as raw field elements, so the polynomial must stay fixed:
// changing it makes every previously issued share unusable.
package gf8

import (
	"errors"
	"sync"
)

// Polynomial is the irreducible polynomial x^8 + x^4 + x^3 + x^2 + 1.
const Polynomial = 0x11D

// generator of the multiplicative group of GF(2^8) under Polynomial.
const generator = 0x02

// order of the multiplicative group.
const order = 255

// ErrDivideByZero is returned when dividing by the zero element.
var ErrDivideByZero = errors.New("gf8: division by zero")

type tables struct {
	// exp[i] = generator^i. Doubled in length so that exp[log a + log b]
	// never needs a modulo.
	exp [2 * order]byte
	// log[a] = i such that generator^i = a. log[0] is unused.
	log [order + 1]byte
}

var (
	tblOnce sync.Once
	tbl     *tables
)

// getTables builds the tables on first use. They are never written again, so
// concurrent readers need no locking.
func getTables() *tables {
	tblOnce.Do(func() { tbl = buildTables() })
	return tbl
}

func buildTables() *tables {
	var tb tables
	x := 1
	for i := 0; i < order; i++ {
		tb.exp[i] = byte(x)
		tb.exp[i+order] = byte(x)
		tb.log[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= Polynomial
		}
	}
	return &tb
}

// Add returns a + b. Addition and subtraction are both XOR in GF(2^8).
func Add(a, b byte) byte {
	return a ^ b
}

// Subtract returns a - b, which is the same as a + b.
func Subtract(a, b byte) byte {
	return a ^ b
}

// Multiply returns a * b.
func Multiply(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	tb := getTables()
	return tb.exp[int(tb.log[a])+int(tb.log[b])]
}

// Divide returns a / b, or ErrDivideByZero if b is zero.
func Divide(a, b byte) (byte, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	if a == 0 {
		return 0, nil
	}
	tb := getTables()
	return tb.exp[int(tb.log[a])+order-int(tb.log[b])], nil
}

// Inverse returns the multiplicative inverse of a.
func Inverse(a byte) (byte, error) {
	return Divide(1, a)
}
