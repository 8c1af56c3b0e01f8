package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/raylab/sim"
)

// catalogCmd lists the models, GPUs, networks and hardware templates
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the models, GPUs, networks and hardware templates of the catalog",
	Run: func(cmd *cobra.Command, args []string) {
		cat := sim.DefaultCatalog()
		if catalogPath != "" {
			loaded, err := sim.LoadCatalog(catalogPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			cat = loaded
		}
		printCatalog(cmd.OutOrStdout(), cat)
	},
}

func printCatalog(out io.Writer, cat *sim.Catalog) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "MODEL\tPARAMS\tVRAM (GB)\tTP\tTOKENS/S\t$/1K TOKENS")
	for _, m := range cat.Models {
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%d\t%.0f\t%.4f\n", m.ID, m.ParamSize, m.VRAMRequiredGB, m.TPSize, m.TokensPerSec, m.CostPer1kTokens)
	}
	fmt.Fprintln(w)

	gpus := make([]string, 0, len(cat.GPUs))
	for t := range cat.GPUs {
		gpus = append(gpus, string(t))
	}
	sort.Strings(gpus)
	fmt.Fprintln(w, "GPU\tLABEL\tVRAM (GB)\tPERF\tHBM (GB/s)")
	for _, t := range gpus {
		g := cat.GPUs[sim.GPUType(t)]
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.2f\t%.0f\n", t, g.Label, g.VRAMGB, g.PerfFactor, g.MemBandwidthGBs)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "NETWORK\tLABEL\tBANDWIDTH (GB/s)\tLATENCY")
	for _, speed := range []sim.NetworkSpeed{sim.NetworkEth10G, sim.NetworkEth100G, sim.NetworkIB400G} {
		n := cat.Networks[speed]
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.1f\n", speed, n.Label, n.BandwidthGBs, n.Latency)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "TEMPLATE\tNAME\tNODES")
	for _, tpl := range cat.Templates {
		nodes := 0
		for _, s := range tpl.Specs {
			nodes += s.Count
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", tpl.ID, tpl.Name, nodes)
	}
	w.Flush()
}

func init() {
	catalogCmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a catalog YAML replacing the built-in models, GPUs and templates")
	rootCmd.AddCommand(catalogCmd)
}
