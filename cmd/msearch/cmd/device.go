package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/pkg/device"
)

var deviceRemote bool

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the compute device a worker would train on",
	Long: `Detect the preferred compute device (cuda, mps or cpu) on this host.
With --remote the supervisor reports its own host instead.`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.Flags().BoolVar(&deviceRemote, "remote", false, "ask the supervisor instead of probing locally")
}

func runDevice(cmd *cobra.Command, args []string) error {
	var info device.Info
	if deviceRemote {
		if err := apiCall("GET", "/device", nil, http.StatusOK, &info); err != nil {
			return err
		}
	} else {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		info = device.Detect(ctx)
	}

	if done, err := printStructured(info); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Device", string(info.Device))
	table.Append("Description", info.Description)
	table.Append("Platform", fmt.Sprintf("%s/%s", info.Platform, info.Arch))
	if info.Hostname != "" {
		table.Append("Hostname", info.Hostname)
	}
	table.Append("CPU", fmt.Sprintf("%s (%d cores)", info.CPUModel, info.CPUCores))
	table.Append("Memory", fmt.Sprintf("%.1f GB", info.MemoryGB))
	if info.GPUCount > 0 {
		table.Append("GPUs", fmt.Sprintf("%d: %s", info.GPUCount, strings.Join(info.GPUNames, ", ")))
		table.Append("GPU Memory", fmt.Sprintf("%.1f GB", info.GPUMemoryGB))
	}
	table.Render()
	return nil
}
