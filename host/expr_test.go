// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

type testResolver struct {
	idents map[string]uint64
	words  map[uint64]uint64
}

func (r *testResolver) resolveIdentifier(s string) (uint64, error) {
	if v, ok := r.idents[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("identifier '%s' not found", s)
}

func (r *testResolver) readWord(addr uint64) uint64 {
	return r.words[addr]
}

func TestExprParser(t *testing.T) {
	r := &testResolver{
		idents: map[string]uint64{"pc": 0xf800, "r1": 0x10, "r1.hi": 2},
		words:  map[uint64]uint64{0x100: 0x0807060504030201, 0xf800: 0x100},
	}

	cases := []struct {
		expr string
		exp  uint64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"8-2-1", 5},
		{"64/4/2", 8},
		{"$ff", 0xff},
		{"0xdeadbeef", 0xdeadbeef},
		{"0xffff_0000", 0xffff0000},
		{"0b101", 5},
		{"0b1111_0000", 0xf0},
		{"'A'", 65},
		{"1<<4", 16},
		{"$100>>4", 0x10},
		{"1+1<<2", 8},
		{"$f0 & $3c", 0x30},
		{"$f0 | $0f", 0xff},
		{"$ff ^ $0f", 0xf0},
		{"1 | 6 & 3", 3},
		{"~0", math.MaxUint64},
		{"-1", math.MaxUint64},
		{"--1", 1},
		{"+5", 5},
		{"7 % 4", 3},
		{"pc+8", 0xf808},
		{"r1*r1", 0x100},
		{"r1.hi", 2},
		{"[$100]", 0x0807060504030201},
		{"[$100] & $ff", 1},
		{"[[pc]]", 0x0807060504030201},
		{"[$200]", 0},
		{"$ffffffffffffffff", math.MaxUint64},
	}

	p := newExprParser()
	for _, c := range cases {
		v, err := p.Parse(c.expr, r)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", c.expr, err)
			continue
		}
		if v != c.exp {
			t.Errorf("Parse(%q) incorrect. exp: $%X, got: $%X", c.expr, c.exp, v)
		}
	}
}

func TestExprErrors(t *testing.T) {
	r := &testResolver{}
	p := newExprParser()

	exprs := []string{
		"", "(1", "1)", "1 +", "$", "0x", "0b", "<3", "1 == 1",
		"10a", "0b102", "1 ~ 2", "[1", "(1]", "'A", "$1_0000_0000_0000_0000",
	}
	for _, expr := range exprs {
		if _, err := p.Parse(expr, r); err == nil {
			t.Errorf("Parse(%q) succeeded", expr)
		}
	}

	for _, expr := range []string{"1/0", "1%0", "[0]/0"} {
		if _, err := p.Parse(expr, r); !errors.Is(err, errDivideByZero) {
			t.Errorf("Parse(%s) incorrect. exp: %v, got: %v", expr, errDivideByZero, err)
		}
	}
	if _, err := p.Parse("sp", r); err == nil {
		t.Errorf("Unknown identifier resolved")
	}
}

func TestExprHexMode(t *testing.T) {
	r := &testResolver{idents: map[string]uint64{"pc": 0xf800}}
	p := newExprParser()
	p.hexMode = true

	cases := []struct {
		expr string
		exp  uint64
	}{
		{"ff+10", 0x10f},
		{"0x10", 0x10},
		{"$10", 0x10},
		{"0b1", 0xb1},
		{"dead_beef", 0xdeadbeef},
		{"pc+10", 0xf810},
	}
	for _, c := range cases {
		v, err := p.Parse(c.expr, r)
		if err != nil {
			t.Errorf("Parse(%q) in hex mode failed: %v", c.expr, err)
			continue
		}
		if v != c.exp {
			t.Errorf("Parse(%q) in hex mode incorrect. exp: $%X, got: $%X", c.expr, c.exp, v)
		}
	}
}
