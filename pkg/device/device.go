// Package device picks the compute device a trainer should use and
// describes the host it runs on.
package device

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Kind is the compute backend handed to the trainer.
type Kind string

const (
	CUDA Kind = "cuda"
	MPS  Kind = "mps"
	CPU  Kind = "cpu"
)

// Info describes the selected device and the host.
type Info struct {
	Device      Kind     `json:"device" yaml:"device"`
	Description string   `json:"description" yaml:"description"`
	Platform    string   `json:"platform" yaml:"platform"`
	Arch        string   `json:"arch" yaml:"arch"`
	Hostname    string   `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	OSVersion   string   `json:"os_version,omitempty" yaml:"os_version,omitempty"`
	CPUModel    string   `json:"cpu_model" yaml:"cpu_model"`
	CPUCores    int      `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryGB    float64  `json:"memory_gb" yaml:"memory_gb"`
	GPUCount    int      `json:"gpu_count,omitempty" yaml:"gpu_count,omitempty"`
	GPUNames    []string `json:"gpu_names,omitempty" yaml:"gpu_names,omitempty"`
	GPUMemoryGB float64  `json:"gpu_memory_gb,omitempty" yaml:"gpu_memory_gb,omitempty"`
}

// CommandRunner runs an external probe and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Detector probes the host. Zero values fall back to the real system.
type Detector struct {
	Run    CommandRunner
	GOOS   string
	GOARCH string
}

// Detect is shorthand for a Detector on the running host.
func Detect(ctx context.Context) Info {
	return (&Detector{}).Detect(ctx)
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detect returns the preferred device in order cuda, mps, cpu.
func (d *Detector) Detect(ctx context.Context) Info {
	run := d.Run
	if run == nil {
		run = execRunner
	}
	goos, goarch := d.GOOS, d.GOARCH
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}

	info := Info{Platform: goos, Arch: goarch}
	fillHost(ctx, &info)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if names, memGB := detectNVIDIA(probeCtx, run); len(names) > 0 {
		info.Device = CUDA
		info.GPUCount = len(names)
		info.GPUNames = names
		info.GPUMemoryGB = memGB
		plural := ""
		if len(names) > 1 {
			plural = "s"
		}
		info.Description = fmt.Sprintf("CUDA (%d GPU%s: %s)", len(names), plural, names[0])
		return info
	}

	if goos == "darwin" && goarch == "arm64" {
		info.Device = MPS
		info.Description = fmt.Sprintf("Metal Performance Shaders (macOS %s)", goarch)
		return info
	}

	info.Device = CPU
	cpuDesc := info.CPUModel
	if cpuDesc == "" {
		cpuDesc = goarch
	}
	info.Description = fmt.Sprintf("CPU (%s)", cpuDesc)
	return info
}

// detectNVIDIA queries nvidia-smi for GPU names and the first GPU's memory.
func detectNVIDIA(ctx context.Context, run CommandRunner) ([]string, float64) {
	out, err := run(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil || len(out) == 0 {
		return nil, 0
	}

	var names []string
	var firstMemGB float64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, memStr, _ := strings.Cut(line, ",")
		names = append(names, strings.TrimSpace(name))
		if len(names) == 1 {
			if mib, err := strconv.ParseFloat(strings.TrimSpace(memStr), 64); err == nil {
				firstMemGB = round2(mib / 1024)
			}
		}
	}
	return names, firstMemGB
}

func fillHost(ctx context.Context, info *Info) {
	info.CPUCores = runtime.NumCPU()
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUCores = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		info.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryGB = round2(float64(vm.Total) / (1024 * 1024 * 1024))
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.OSVersion = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
