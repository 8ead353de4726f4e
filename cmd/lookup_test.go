package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodegeo/nodegeo/resolver"
	"github.com/nodegeo/nodegeo/utils"
)

type fakeQuerier struct {
	calls  atomic.Int64
	answer func(address string) *utils.GeoResult
}

func (f *fakeQuerier) Query(_ context.Context, address string, _ resolver.QueryOptions) *utils.GeoResult {
	f.calls.Add(1)
	return f.answer(address)
}

func staticHosts(hosts map[string]string) hostResolver {
	return func(_ context.Context, host string) ([]string, error) {
		if address, ok := hosts[host]; ok {
			return []string{address}, nil
		}
		return nil, errors.New("no such host")
	}
}

func TestBatchLookupOutcomes(t *testing.T) {
	engine := &fakeQuerier{answer: func(address string) *utils.GeoResult {
		switch address {
		case "1.1.1.1":
			r := utils.GeoResult{Address: address, Country: "Australia", City: "Sydney", Source: utils.SourceLocal}.Finalize(utils.AccuracyLow)
			return &r
		case "5.9.0.1":
			r := utils.GeoResult{Address: address, Country: "Germany", Source: utils.SourceLocal}.Finalize(utils.AccuracyLow)
			return &r
		default:
			return nil
		}
	}}

	batch := &batchLookup{
		engine:  engine,
		resolve: staticHosts(map[string]string{"node.example.com": "1.1.1.1", "lan.example.com": "10.0.0.8"}),
		opts:    resolver.QueryOptions{EnableFallback: true},
	}

	targets := []string{"1.1.1.1", "5.9.0.1", "9.9.9.9", "127.0.0.1", "node.example.com", "lan.example.com", "missing.example.com"}
	outcomes, err := batch.Run(context.Background(), targets, 3)
	require.NoError(t, err)
	require.Len(t, outcomes, len(targets))

	got := make([]string, len(outcomes))
	for i, o := range outcomes {
		assert.Equal(t, targets[i], o.Target)
		got[i] = o.Outcome
	}
	assert.Equal(t, []string{
		outcomeCity, outcomeNoCity, outcomeNotFound, outcomePrivate, outcomeCity, outcomePrivate, outcomeUnresolved,
	}, got)

	assert.Equal(t, "1.1.1.1", outcomes[4].Address)
	assert.Equal(t, "loopback", outcomes[3].Class)
	assert.Equal(t, utils.SourcePrivateIP, outcomes[6].Result.Source)
	assert.NotEmpty(t, outcomes[6].Error)

	// private and unresolvable targets never reach the resolver
	assert.EqualValues(t, 4, engine.calls.Load())

	summary := summarize(outcomes)
	assert.Equal(t, len(targets), summary.Total)
	assert.Equal(t, 2, summary.ByOutcome[outcomeCity])
	assert.Equal(t, 2, summary.ByOutcome[outcomePrivate])
	assert.Equal(t, 3, summary.BySource[utils.SourceLocal])
	assert.Equal(t, 3, summary.BySource[utils.SourcePrivateIP])
}

func TestBatchLookupManyTargets(t *testing.T) {
	engine := &fakeQuerier{answer: func(address string) *utils.GeoResult {
		r := utils.GeoResult{Address: address, Country: "Japan"}.Finalize(utils.AccuracyLow)
		return &r
	}}

	batch := &batchLookup{engine: engine, resolve: staticHosts(nil)}

	targets := make([]string, 100)
	for i := range targets {
		targets[i] = fmt.Sprintf("8.8.%d.%d", i/250, i%250+1)
	}

	outcomes, err := batch.Run(context.Background(), targets, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 100, engine.calls.Load())
	for i, o := range outcomes {
		assert.Equal(t, targets[i], o.Result.Address)
	}
}

func TestReadTargets(t *testing.T) {
	input := "# nodes\n1.1.1.1\n\n  node.example.com  \n#8.8.8.8\n"

	targets, err := readTargets(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "node.example.com"}, targets)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, lookupSummary{
		Total:     3,
		ByOutcome: map[string]int{outcomeCity: 2, outcomePrivate: 1},
		BySource:  map[string]int{utils.SourceLocal: 2},
	})

	out := buf.String()
	assert.Contains(t, out, "3 targets")
	assert.Contains(t, out, outcomeCity)
	assert.Contains(t, out, utils.SourceLocal)
	assert.Less(t, strings.Index(out, outcomeCity), strings.Index(out, outcomePrivate))
}
