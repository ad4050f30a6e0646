// Command kernelctl is the host-side control surface for the hosted
// kernel: it boots a simulated image, runs the boot-time regression
// scenarios against it, and prints the results. There is no real VM
// boundary here, so "boot" and "btrt" operate directly on an in-process
// Kernel instead of talking to a running guest over a socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nucleus/internal/btrt"
	"nucleus/internal/klog"
	sc "nucleus/internal/syscall"
)

var (
	totalFrames int
	workers     int
)

func newKernel() *sc.Kernel {
	return sc.NewKernel(totalFrames, workers)
}

func main() {
	root := &cobra.Command{
		Use:   "kernelctl",
		Short: "Control surface for the hosted kernel simulation",
		Long: `kernelctl drives the hosted kernel simulation: it boots a simulated
image, runs the boot-time regression table's scenarios against it, and
reports results the way a real image would populate its BTRT region for
a host to read across the VM boundary.`,
	}

	root.PersistentFlags().IntVar(&totalFrames, "frames", 4096, "number of 4K physical frames in the simulated arena")
	root.PersistentFlags().IntVar(&workers, "workers", 2, "wake-up channel capacity of the kernel work queue (one worker goroutine drains it)")

	root.AddCommand(bootCmd(), selftestCmd(), btrtCmd())

	if err := root.Execute(); err != nil {
		klog.Log.WithError(err).Error("kernelctl failed")
		os.Exit(1)
	}
}

func bootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Run the simulated boot path and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := newKernel()
			initProc := k.Procs.Create(0)
			klog.CPU(0).WithFields(map[string]any{
				"frames": totalFrames,
				"pid":    initProc.PID,
			}).Info("boot: kernel initialized, init process spawned")
			klog.CPU(0).Info("boot: virtqueue/PTY/netstack singletons wired")
			klog.CPU(0).Info("boot: handing off to scheduler (simulation idle, no shell attached)")
			return nil
		},
	}
}

func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest <scenario>",
		Short: "Run a single named boot-time regression scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			res, ok := btrt.RunOne(newKernel, name)
			if !ok {
				names := make([]string, 0, len(btrt.Scenarios))
				for _, s := range btrt.Scenarios {
					names = append(names, s.Name)
				}
				return fmt.Errorf("unknown scenario %q (known: %v)", name, names)
			}
			fmt.Printf("%-32s %-5s %s\n", res.Name, res.Status, res.Detail)
			if res.Status == btrt.StatusFail {
				return fmt.Errorf("scenario %q failed: %s", res.Name, res.Detail)
			}
			return nil
		},
	}
}

func btrtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "btrt",
		Short: "Run every boot-time regression scenario and dump the result table as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl := btrt.Run(newKernel)
			raw, err := tbl.ToJSON()
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			if tbl.Failed > 0 {
				return fmt.Errorf("%d/%d scenarios failed", tbl.Failed, tbl.Total)
			}
			return nil
		},
	}
}
