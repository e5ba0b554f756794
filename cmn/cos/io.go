// Package cos provides common low-level types and utilities for all gpumem packages.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"bufio"
	"io"
	"os"
	"strconv"
)

// ReadLines calls cb for each line of the file, stopping early when the
// callback returns io.EOF. Intended for procfs/sysfs style files.
func ReadLines(filename string, cb func(string) error) error {
	fh, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		if err := cb(scanner.Text()); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

// ReadOneLine returns the first line of the file.
func ReadOneLine(filename string) (string, error) {
	var line string
	err := ReadLines(filename, func(l string) error {
		line = l
		return io.EOF
	})
	return line, err
}

func ReadOneUint64(filename string) (uint64, error) {
	line, err := ReadOneLine(filename)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(line, 10, 64)
}

func ReadOneInt64(filename string) (int64, error) {
	line, err := ReadOneLine(filename)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(line, 10, 64)
}
