package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/pkg/parser"
)

var parserCmd = &cobra.Command{
	Use:   "parser",
	Short: "Inspect and exercise the protocol parser",
}

var parserListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered protocols",
	Run: func(cmd *cobra.Command, args []string) {
		reg := parser.DefaultRegistry()
		for _, name := range reg.List() {
			def, err := reg.Get(name)
			if err != nil {
				continue
			}
			fmt.Printf("%-14s v%-4s %2d fields, %3d bytes\n",
				def.Name, def.Version, len(def.Fields), def.TotalLength())
		}
	},
}

var parseFlags struct {
	protocol string
	hexData  string
	all      bool
	format   string
}

var parserParseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse hex-encoded packet bytes",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := decodeHexArg(parseFlags.hexData)
		if err != nil {
			return err
		}
		p := parser.New(parser.DefaultRegistry(), parser.DefaultOptions())
		format := parser.OutputFormat(parseFlags.format)

		if parseFlags.all {
			results, err := p.ParseAll(data, nil)
			if err != nil {
				return err
			}
			for name, r := range results {
				if !r.OK() {
					continue
				}
				text, err := parser.Format(r, format)
				if err != nil {
					return err
				}
				fmt.Printf("== %s ==\n%s\n", name, text)
			}
			return nil
		}

		if parseFlags.protocol == "" {
			return fmt.Errorf("parse requires --protocol or --all")
		}
		r, err := p.Parse(parseFlags.protocol, data)
		if err != nil {
			return err
		}
		text, err := parser.Format(r, format)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

func decodeHexArg(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "\n", "", ":", "").Replace(s)
	if clean == "" {
		return nil, fmt.Errorf("no packet bytes given, use --hex")
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("bad hex input: %w", err)
	}
	return data, nil
}

func init() {
	f := parserParseCmd.Flags()
	f.StringVarP(&parseFlags.protocol, "protocol", "p", "", "protocol name to parse as")
	f.StringVarP(&parseFlags.hexData, "hex", "x", "", "packet bytes as hex")
	f.BoolVar(&parseFlags.all, "all", false, "try every registered protocol")
	f.StringVarP(&parseFlags.format, "format", "f", "human", "output format (json, xml, csv, human)")

	parserCmd.AddCommand(parserListCmd)
	parserCmd.AddCommand(parserParseCmd)
	rootCmd.AddCommand(parserCmd)
}
