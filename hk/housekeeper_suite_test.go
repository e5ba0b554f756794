// Package hk schedules housekeeping callbacks on a shared timer heap:
// one goroutine and one timer serve all registered cleanups.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Housekeeper Suite")
}
