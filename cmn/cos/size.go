// Package cos provides common low-level types and utilities for all gpumem packages.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// IEC (binary) units
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

// size suffix -> multiplier; ordered longest-first so that "KIB" wins over "KB" over "K"
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"KIB", KiB}, {"MIB", MiB}, {"GIB", GiB}, {"TIB", TiB},
	{"KB", KiB}, {"MB", MiB}, {"GB", GiB}, {"TB", TiB},
	{"K", KiB}, {"M", MiB}, {"G", GiB}, {"T", TiB},
	{"B", 1},
}

/////////////
// SizeIEC //
/////////////

// SizeIEC is a byte count that marshals as a human-readable IEC string
// ("512KiB") and parses the same back.
type SizeIEC int64

func (siz SizeIEC) MarshalJSON() ([]byte, error) { return jsoniter.Marshal(siz.String()) }
func (siz SizeIEC) String() string               { return ToSizeIEC(int64(siz), 0) }

func (siz *SizeIEC) UnmarshalJSON(b []byte) (err error) {
	var (
		n   int64
		val string
	)
	if err = jsoniter.Unmarshal(b, &val); err != nil {
		return
	}
	n, err = ParseSize(val)
	*siz = SizeIEC(n)
	return
}

func ToSizeIEC(b int64, digits int) string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(TiB), "TiB")
	case b >= GiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(GiB), "GiB")
	case b >= MiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(MiB), "MiB")
	case b >= KiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(KiB), "KiB")
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// ParseSize is the inverse of ToSizeIEC, with some slack: suffixes are
// case-insensitive, "4k" == "4KB" == "4KiB", and a bare number is bytes.
// Units are binary throughout; there is no SI (decimal) flavor.
func ParseSize(size string) (int64, error) {
	var (
		mult = int64(1)
		s    = strings.ToUpper(strings.TrimSpace(size))
	)
	if s == "" {
		return 0, nil
	}
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSuffix(s, u.suffix), u.mult
			break
		}
	}
	if strings.IndexByte(s, '.') >= 0 {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse size %q: %v", size, err)
		}
		return int64(f * float64(mult)), nil
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse size %q: %v", size, err)
	}
	return val * mult, nil
}
