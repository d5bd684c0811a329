package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/internal/decoder"
	"firestige.xyz/harpoon/pkg/filter"
	"firestige.xyz/harpoon/pkg/packet"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Dry-run filter expressions against packet bytes",
}

var filterTestFlags struct {
	ftype string
	expr  string
	hex   string
}

var filterTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Apply one filter to hex-encoded packet bytes",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := decodeHexArg(filterTestFlags.hex)
		if err != nil {
			return err
		}

		ftype, err := filterType(filterTestFlags.ftype)
		if err != nil {
			return err
		}

		chain := filter.NewChain()
		err = chain.Add(&filter.Entry{
			Name:       "cli",
			Type:       ftype,
			Expression: filterTestFlags.expr,
			Enabled:    true,
		})
		if err != nil {
			return err
		}

		p := packet.FromBytes(data, time.Now())
		defer p.Release()
		if md, err := decoder.Decode(p.Data(), ""); err == nil {
			p.SetMetadata(md)
		}

		v := chain.Apply(p)
		if v.Passed {
			fmt.Println("PASS")
			return nil
		}
		fmt.Printf("DROP by %s: %s\n", v.Filter, v.Reason)
		return nil
	},
}

func filterType(name string) (filter.Type, error) {
	switch name {
	case "bpf":
		return filter.TypeBPF, nil
	case "protocol":
		return filter.TypeProtocol, nil
	case "ip-range":
		return filter.TypeIPRange, nil
	case "port-range":
		return filter.TypePortRange, nil
	case "payload":
		return filter.TypePayload, nil
	default:
		return 0, fmt.Errorf("unknown filter type %q (bpf, protocol, ip-range, port-range, payload)", name)
	}
}

func init() {
	f := filterTestCmd.Flags()
	f.StringVarP(&filterTestFlags.ftype, "type", "t", "protocol", "filter type")
	f.StringVarP(&filterTestFlags.expr, "expr", "e", "", "filter expression")
	f.StringVarP(&filterTestFlags.hex, "hex", "x", "", "packet bytes as hex")

	filterCmd.AddCommand(filterTestCmd)
	rootCmd.AddCommand(filterCmd)
}
