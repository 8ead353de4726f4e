package provider

import (
	"context"
	"sync"
	"time"
)

type ProbeResult struct {
	Name      string        `json:"name"`
	Tier      int           `json:"tier"`
	Available bool          `json:"available"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Country   string        `json:"country,omitempty"`
	City      string        `json:"city,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Probe queries every provider once with address, in parallel, and reports
// which of them answered. Unavailable providers are reported without a call.
func (c *Cascade) Probe(ctx context.Context, address string) []ProbeResult {
	results := make([]ProbeResult, len(c.all))

	var wg sync.WaitGroup
	for i, d := range c.all {
		results[i] = ProbeResult{Name: d.Name, Tier: int(d.Tier), Available: d.Unavailable == nil}
		if d.Unavailable != nil {
			results[i].Error = d.Unavailable.Error()
			continue
		}

		wg.Add(1)
		go func(res *ProbeResult, d Descriptor) {
			defer wg.Done()

			start := c.clock.Now()
			raw, err := c.invoke(ctx, d, address)
			res.Latency = c.clock.Since(start)
			c.usage[d.Name].Used(err)

			switch {
			case err != nil:
				res.Error = err.Error()
			case raw == nil:
				res.Error = "no information"
			default:
				normalized := Normalize(raw, d.Name)
				res.Healthy = normalized.CountryCode != "" || normalized.Country != ""
				res.Country = firstNonEmpty(normalized.Country, normalized.CountryCode)
				res.City = normalized.City
			}
		}(&results[i], d)
	}
	wg.Wait()

	return results
}
