// Package main implements gpumeminfo: a small CLI that brings the GPU
// memory manager up for the selected devices and prints per-device memory
// reports (text or JSON).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/NVIDIA/gpumem/cmn/cos"
	"github.com/NVIDIA/gpumem/cudart"
	"github.com/NVIDIA/gpumem/gmm"
	"github.com/NVIDIA/gpumem/sys"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	build   string
	version string
)

var (
	devicesArg string
	promAddr   string
	update     bool
	jsonOut    bool
	debug      bool
	showVer    bool
)

type devReport struct {
	Name    string      `json:"name"`
	Device  int         `json:"device"`
	Total   cos.SizeIEC `json:"total"`
	Free    cos.SizeIEC `json:"free"`
	Cached  cos.SizeIEC `json:"cached"`
	Pinned  cos.SizeIEC `json:"pinned"`
	Flushes int64       `json:"flushes"`
}

func init() {
	flag.StringVar(&devicesArg, "devices", "all", "comma-separated device ordinals (or \"all\")")
	flag.StringVar(&promAddr, "prom", "", "serve prometheus metrics at this address (e.g. :8080) instead of exiting")
	flag.BoolVar(&update, "update", true, "force an authoritative refresh before reporting")
	flag.BoolVar(&jsonOut, "json", false, "emit JSON")
	flag.BoolVar(&debug, "debug", false, "verbose allocator diagnostics")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if showVer {
		fmt.Printf("version %s (build %s)\n", version, build)
		return
	}
	sys.GoEnvMaxprocs()

	d := cudart.Default()
	gpus, err := parseDevices(devicesArg, d.DeviceCount())
	if err != nil {
		cos.Exitf("gpumeminfo: %v", err)
	}
	if len(gpus) == 0 {
		cos.Exitf("gpumeminfo: no devices selected (driver reports %d)", d.DeviceCount())
	}

	mgr := gmm.New(d)
	scope := gmm.OpenScope(mgr, gpus, debug)
	defer scope.Close()

	if update {
		for _, gpu := range gpus {
			mgr.UpdateDevInfo(gpu)
		}
	}
	if jsonOut {
		emitJSON(d, mgr, gpus)
	} else {
		for _, gpu := range gpus {
			fmt.Println(mgr.ReportDevInfo(gpu))
		}
		if mem, err := sys.Mem(); err == nil {
			fmt.Println("host: " + mem.String())
		}
		printInventory()
	}

	// exporter mode: keep the scope open and serve the per-device collector
	if promAddr != "" {
		prometheus.MustRegister(mgr.Collector())
		http.Handle("/metrics", promhttp.Handler())
		klog.Infof("serving metrics at %s/metrics", promAddr)
		if err := http.ListenAndServe(promAddr, nil); err != nil {
			cos.Exitf("gpumeminfo: %v", err)
		}
	}
}

func emitJSON(d cudart.Driver, mgr *gmm.Manager, gpus []int) {
	reports := make([]devReport, 0, len(gpus))
	for _, gpu := range gpus {
		snap, ok := mgr.Snap(gpu)
		if !ok {
			continue
		}
		props, err := d.Props(gpu)
		if err != nil {
			cos.Exitf("gpumeminfo: dev %d: %v", gpu, err)
		}
		reports = append(reports, devReport{
			Name:    props.Name,
			Device:  gpu,
			Total:   cos.SizeIEC(snap.Total),
			Free:    cos.SizeIEC(snap.Free),
			Cached:  cos.SizeIEC(snap.Cached),
			Pinned:  cos.SizeIEC(snap.Pinned),
			Flushes: snap.Flushes,
		})
	}
	out, err := jsoniter.MarshalIndent(reports, "", "    ")
	if err != nil {
		cos.Exitf("gpumeminfo: %v", err)
	}
	fmt.Println(string(out))
}

func parseDevices(s string, count int) ([]int, error) {
	if s == "all" {
		gpus := make([]int, count)
		for i := range gpus {
			gpus[i] = i
		}
		return gpus, nil
	}
	var gpus []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		gpu, err := strconv.Atoi(f)
		if err != nil || gpu < 0 || gpu >= count {
			return nil, fmt.Errorf("invalid device %q (driver reports %d)", f, count)
		}
		gpus = append(gpus, gpu)
	}
	return gpus, nil
}
