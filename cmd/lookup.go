package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/resolver"
	"github.com/nodegeo/nodegeo/utils"
)

const DefaultLookupWorkers = 10

const (
	outcomeCity       = "city"
	outcomeNoCity     = "country_only"
	outcomeNotFound   = "not_found"
	outcomePrivate    = "private"
	outcomeUnresolved = "unresolved"
	outcomeFailed     = "failed"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [address|host]...",
	Short: "Resolve a batch of node addresses",
	Long:  "Resolve node addresses or host names given as arguments, or one per line from --file (- for stdin).",
	Run:   execLookup,
}

// Querier is the part of the resolver a batch lookup needs.
type Querier interface {
	Query(ctx context.Context, address string, opts resolver.QueryOptions) *utils.GeoResult
}

type hostResolver func(ctx context.Context, host string) ([]string, error)

type lookupOutcome struct {
	Target  string           `json:"target"`
	Address string           `json:"address,omitempty"`
	Class   string           `json:"class,omitempty"`
	Outcome string           `json:"outcome"`
	Error   string           `json:"error,omitempty"`
	Result  *utils.GeoResult `json:"result,omitempty"`
}

type lookupSummary struct {
	Total     int            `json:"total"`
	ByOutcome map[string]int `json:"by_outcome"`
	BySource  map[string]int `json:"by_source"`
}

type lookupJob struct {
	ctx    context.Context
	target string
	result *lookupOutcome
	wg     *sync.WaitGroup
}

// batchLookup resolves targets on a pool of workers. Non-public addresses
// and unresolvable hosts get the unknown location without a query.
type batchLookup struct {
	engine  Querier
	resolve hostResolver
	opts    resolver.QueryOptions
}

func init() {
	lookupCmd.Flags().StringP("file", "f", "", "read targets from a file, one per line (- for stdin)")
	lookupCmd.Flags().Int("workers", DefaultLookupWorkers, "concurrent lookups")
	lookupCmd.Flags().Bool("online", false, "skip the cache and the local database")
	lookupCmd.Flags().Bool("no-fallback", false, "never go online when the local database has no city")
	lookupCmd.Flags().Bool("stats", true, "print resolver statistics after the batch")

	viper.BindPFlag("lookup.workers", lookupCmd.Flags().Lookup("workers"))

	rootCmd.AddCommand(lookupCmd)
}

func systemResolver(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

func (b *batchLookup) lookupOne(ctx context.Context, target string) lookupOutcome {
	out := lookupOutcome{Target: target, Address: target}

	class := utils.Classify(target)
	if class == utils.Invalid {
		// not an address, try it as a host name
		addresses, err := b.resolve(ctx, target)
		if err != nil || len(addresses) == 0 {
			out.Address = ""
			out.Outcome = outcomeUnresolved
			if err != nil {
				out.Error = err.Error()
			}
			out.Result = utils.UnknownLocation(target)
			return out
		}

		out.Address = addresses[0]
		class = utils.Classify(out.Address)
	}

	out.Class = class.String()
	if !class.IsPublic() {
		out.Outcome = outcomePrivate
		out.Result = utils.UnknownLocation(out.Address)
		return out
	}

	out.Result = b.engine.Query(ctx, out.Address, b.opts)
	switch {
	case out.Result == nil:
		out.Outcome = outcomeNotFound
	case out.Result.HasCity:
		out.Outcome = outcomeCity
	default:
		out.Outcome = outcomeNoCity
	}

	return out
}

func (b *batchLookup) work(arg any) {
	job := arg.(*lookupJob)
	defer job.wg.Done()

	*job.result = b.lookupOne(job.ctx, job.target)
}

// Run resolves every target and returns the outcomes in input order.
func (b *batchLookup) Run(ctx context.Context, targets []string, workers int) ([]lookupOutcome, error) {
	if workers <= 0 {
		workers = DefaultLookupWorkers
	}

	pool, err := ants.NewPoolWithFunc(workers, b.work)
	if err != nil {
		return nil, fmt.Errorf("cannot create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]lookupOutcome, len(targets))
	wg := &sync.WaitGroup{}

	for i, target := range targets {
		wg.Add(1)

		job := &lookupJob{ctx: ctx, target: target, result: &results[i], wg: wg}
		if err := pool.Invoke(job); err != nil {
			wg.Done()
			results[i] = lookupOutcome{Target: target, Outcome: outcomeFailed, Error: err.Error()}
		}
	}
	wg.Wait()

	return results, nil
}

func summarize(outcomes []lookupOutcome) lookupSummary {
	summary := lookupSummary{
		Total:     len(outcomes),
		ByOutcome: lo.CountValuesBy(outcomes, func(o lookupOutcome) string { return o.Outcome }),
		BySource:  map[string]int{},
	}

	for _, o := range outcomes {
		if o.Result != nil {
			summary.BySource[o.Result.Source]++
		}
	}

	return summary
}

func readTargets(r io.Reader) ([]string, error) {
	var targets []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}

	return targets, scanner.Err()
}

func collectTargets(args []string, file string) ([]string, error) {
	targets := append([]string(nil), args...)
	if file == "" {
		return targets, nil
	}

	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(utils.ExpandPath(file))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	fromFile, err := readTargets(r)
	if err != nil {
		return nil, err
	}

	return append(targets, fromFile...), nil
}

func printSummary(w io.Writer, summary lookupSummary) {
	fmt.Fprintf(w, "\n%d targets\n", summary.Total)

	for _, counts := range []map[string]int{summary.ByOutcome, summary.BySource} {
		keys := lo.Keys(counts)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
		}
		fmt.Fprintln(w)
	}
}

func execLookup(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	file, _ := cmd.Flags().GetString("file")
	targets, err := collectTargets(args, file)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read targets")
	}
	if len(targets) == 0 {
		log.Fatal().Msg("nothing to look up")
	}

	engine, _, err := newEngine(ctx, resolver.NewMetrics())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build the resolver")
	}
	defer engine.Close()

	online, _ := cmd.Flags().GetBool("online")
	noFallback, _ := cmd.Flags().GetBool("no-fallback")

	batch := &batchLookup{
		engine:  engine,
		resolve: systemResolver,
		opts:    resolver.QueryOptions{ForceOnline: online, EnableFallback: !noFallback},
	}

	outcomes, err := batch.Run(ctx, targets, viper.GetInt("lookup.workers"))
	if err != nil {
		log.Fatal().Err(err).Msg("batch lookup failed")
	}

	enc := json.NewEncoder(os.Stdout)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			log.Error().Err(err).Msg("failed to write result")
		}
	}

	printSummary(os.Stderr, summarize(outcomes))

	if withStats, _ := cmd.Flags().GetBool("stats"); withStats {
		stats := json.NewEncoder(os.Stderr)
		stats.SetIndent("", "  ")
		if err := stats.Encode(engine.Stats()); err != nil {
			log.Error().Err(err).Msg("failed to write stats")
		}
	}
}
