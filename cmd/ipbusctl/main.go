// Command ipbusctl is a thin command-line wrapper over the registry, hw,
// and node packages: dial a device, perform one operation, dispatch, print
// the result. It has no address-table loader of its own (that's an
// explicit external collaborator); register addresses are given directly
// as hex literals on the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hep-daq/ipbus/hw"
	"github.com/hep-daq/ipbus/ipbus"
	"github.com/hep-daq/ipbus/node"
	"github.com/hep-daq/ipbus/registry"
)

var rootTimeout time.Duration

func main() {
	root := &cobra.Command{
		Use:   "ipbusctl",
		Short: "Read and write IPbus device registers from the command line",
	}
	root.PersistentFlags().DurationVar(&rootTimeout, "timeout", 5*time.Second, "dispatch timeout")

	root.AddCommand(readCmd(), writeCmd(), listCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "read <uri> <addr>",
		Short: "Read one or more words starting at addr",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			addr, err := parseHex(args[1])
			if err != nil {
				return err
			}

			client, err := dial(args[0])
			if err != nil {
				return err
			}
			reg := registerNode(count, addr)
			h, err := hw.New(client, reg)
			if err != nil {
				return err
			}

			if count <= 1 {
				d, err := reg.Read()
				if err != nil {
					return err
				}
				if err := h.Dispatch(context.Background()); err != nil {
					return err
				}
				v, err := d.Word()
				if err != nil {
					return err
				}
				fmt.Printf("0x%08x\n", v)
				return nil
			}

			d, err := reg.ReadBlock(count)
			if err != nil {
				return err
			}
			if err := h.Dispatch(context.Background()); err != nil {
				return err
			}
			words, err := d.Words()
			if err != nil {
				return err
			}
			for _, w := range words {
				fmt.Printf("0x%08x\n", w)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of words to read")
	return cmd
}

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <uri> <addr> <value>",
		Short: "Write a single register",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			addr, err := parseHex(args[1])
			if err != nil {
				return err
			}
			value, err := parseHex(args[2])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}

			client, err := dial(args[0])
			if err != nil {
				return err
			}
			reg := node.NewRegister("reg", addr, node.NoMask, node.ReadWrite)
			h, err := hw.New(client, reg)
			if err != nil {
				return err
			}

			if _, err := reg.Write(value); err != nil {
				return err
			}
			return h.Dispatch(context.Background())
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <uri> [pattern]",
		Short: "List node paths of a programmatically built demo tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			client, err := dial(args[0])
			if err != nil {
				return err
			}

			top := demoTree()
			h, err := hw.New(client, top)
			if err != nil {
				return err
			}

			var paths []string
			if len(args) == 2 {
				paths, err = h.ListNodesMatching(args[1])
			} else {
				paths = h.ListNodes()
			}
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func registerNode(count int, addr uint32) *node.Node {
	if count > 1 {
		return node.NewBlock("reg", addr, uint32(count), node.ReadWrite)
	}
	return node.NewRegister("reg", addr, node.NoMask, node.ReadWrite)
}

// demoTree gives list something to show when no address table is loaded.
func demoTree() *node.Node {
	top := node.NewHierarchy("top")
	top.AddChild(node.NewRegister("id", 0x0, node.NoMask, node.Read))
	top.AddChild(node.NewRegister("ctrl", 0x1, node.NoMask, node.ReadWrite))
	return top
}

func dial(uri string) (ipbus.ClientInterface, error) {
	client, err := registry.Default().Dial(uri, registry.WithTimeout(rootTimeout))
	if err != nil {
		return nil, fmt.Errorf("ipbusctl: %w", err)
	}
	return client, nil
}

func parseHex(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	return uint32(v), err
}
