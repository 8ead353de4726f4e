package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

const defaultProbeAddress = "8.8.8.8"

var probeCmd = &cobra.Command{
	Use:   "probe [address]",
	Short: "Check which online providers answer",
	Args:  cobra.MaximumNArgs(1),
	Run:   execProbe,
}

func init() {
	probeCmd.Flags().Bool("json", false, "print the results as JSON")
	probeCmd.Flags().StringSlice("provider", nil, "probe only these providers (default all)")

	rootCmd.AddCommand(probeCmd)
}

// selectDescriptors keeps the named providers, in catalog order.
func selectDescriptors(descriptors []provider.Descriptor, names []string) ([]provider.Descriptor, error) {
	if len(names) == 0 {
		return descriptors, nil
	}

	for _, name := range names {
		if !lo.ContainsBy(descriptors, func(d provider.Descriptor) bool { return d.Name == name }) {
			return nil, utils.UnknownProviderError{Provider: name}
		}
	}

	return lo.Filter(descriptors, func(d provider.Descriptor, _ int) bool {
		return lo.Contains(names, d.Name)
	}), nil
}

func printProbe(w io.Writer, results []provider.ProbeResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tTIER\tSTATUS\tLATENCY\tLOCATION")

	for _, r := range results {
		status := "ok"
		switch {
		case !r.Available:
			status = "unavailable"
		case !r.Healthy:
			status = "failing"
		}

		location := r.Error
		if r.Healthy {
			location = lo.Ternary(r.City == "", r.Country, r.City+", "+r.Country)
		}

		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.Tier, status, r.Latency.Round(time.Millisecond), location)
	}
	tw.Flush()

	healthy := lo.CountBy(results, func(r provider.ProbeResult) bool { return r.Healthy })
	fmt.Fprintf(w, "\n%d of %d providers healthy\n", healthy, len(results))
}

func execProbe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	address := defaultProbeAddress
	if len(args) == 1 {
		address = args[0]
	}

	names, _ := cmd.Flags().GetStringSlice("provider")
	descriptors, err := selectDescriptors(provider.NewOnlineDescriptors(serviceOptions()), names)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot probe")
	}

	cascade, err := provider.NewCascade(ctx, descriptors, provider.CascadeOptions{
		Timeout: viper.GetDuration("online.timeout"),
		Clock:   clockwork.NewRealClock(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build the online providers")
	}

	results := cascade.Probe(ctx, address)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Error().Err(err).Msg("failed to write probe results")
		}
		return
	}

	printProbe(os.Stdout, results)
}
