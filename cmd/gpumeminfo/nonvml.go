//go:build !nvml

/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

func printInventory() {}
