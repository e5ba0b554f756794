//go:build nvml

/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cudart"

	"k8s.io/klog/v2"
)

// the management-library view, independent of the runtime's accounting
func printInventory() {
	inventory, err := cudart.Inventory()
	if err != nil {
		klog.Warningf("gpumeminfo: %v", err)
		return
	}
	for _, dev := range inventory {
		fmt.Printf("nvml: dev %d [%s]: total %s, free %s\n",
			dev.Index, dev.Name, cos.ToSizeIEC(dev.Mem.Total, 1), cos.ToSizeIEC(dev.Mem.Free, 1))
	}
}
