package cmd

import (
	"fmt"
	"net"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/parser"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show host, interface and SDK capability inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if hi, err := host.Info(); err == nil {
			fmt.Printf("host:      %s (%s %s, kernel %s)\n",
				hi.Hostname, hi.Platform, hi.PlatformVersion, hi.KernelVersion)
		}
		if counts, err := cpu.Counts(true); err == nil {
			if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
				fmt.Printf("cpu:       %s, %d logical cores\n", infos[0].ModelName, counts)
			} else {
				fmt.Printf("cpu:       %d logical cores\n", counts)
			}
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			fmt.Printf("memory:    %d MB total, %d MB available\n",
				vm.Total/1024/1024, vm.Available/1024/1024)
		}

		kinds := capture.SupportedKinds()
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		fmt.Printf("backends:  %s\n", strings.Join(names, ", "))
		fmt.Printf("protocols: %s\n", strings.Join(parser.DefaultRegistry().List(), ", "))

		ifaces, err := net.Interfaces()
		if err != nil {
			return err
		}
		fmt.Println("interfaces:")
		for _, iface := range ifaces {
			state := "down"
			if iface.Flags&net.FlagUp != 0 {
				state = "up"
			}
			fmt.Printf("  %-12s mtu=%-5d %s  %s\n", iface.Name, iface.MTU, state, iface.HardwareAddr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
