// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// BootAddr is the address where the boot image is loaded.
const BootAddr = 0xf800

// DefaultBootImage is the boot firmware loaded when no boot file is given.
var DefaultBootImage = []uint64{
	0x02000a0002401200,
	0x0280220002c04200,
	0x0200830002400301,
	0x0280030202c00304,
	0x0200c43f02400480,
	0x0280fcff02680000,
}

// ReadBootImage reads a boot image: one 64-bit hexadecimal word per line.
// Blank lines and lines starting with '#' are ignored.
func ReadBootImage(r io.Reader) ([]uint64, error) {
	var words []uint64
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		s := strings.TrimSpace(scanner.Text())
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "$")
		w, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("boot image line %d: invalid word %q", line, s)
		}
		words = append(words, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// LoadBootFile reads a boot image from a file. An empty filename returns
// the default image.
func LoadBootFile(filename string) ([]uint64, error) {
	if filename == "" {
		return DefaultBootImage, nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	words, err := ReadBootImage(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return words, nil
}
