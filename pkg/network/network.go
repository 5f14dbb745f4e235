// Package network provides readiness probes for the capture service.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"

	"cat-shutter-pi/pkg/clock"
	"cat-shutter-pi/pkg/types"
	"cat-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

const DefaultNTPServer = "pool.ntp.org"

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTPProbe reports the network as usable when an NTP server answers with a
// valid response. Results are cached for Interval.
type NTPProbe struct {
	Server   string
	Timeout  time.Duration
	Interval time.Duration

	query queryFunc
	clk   clock.Clock

	mu      sync.Mutex
	checked time.Time
	ok      bool
	offset  time.Duration
}

func NewNTPProbe(server string, timeout, interval time.Duration) *NTPProbe {
	if server == "" {
		server = DefaultNTPServer
	}
	return &NTPProbe{
		Server:   server,
		Timeout:  timeout,
		Interval: interval,
		query:    ntp.QueryWithOptions,
		clk:      clock.Real{},
	}
}

func (p *NTPProbe) Ready(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	if !p.checked.IsZero() && now.Sub(p.checked) < p.Interval {
		return p.ok
	}
	if ctx.Err() != nil {
		return false
	}

	p.checked = now
	wasOK := p.ok
	resp, err := p.query(p.Server, ntp.QueryOptions{Timeout: p.Timeout})
	if err == nil {
		err = resp.Validate()
	}
	if err != nil {
		p.ok = false
		if wasOK {
			logger.Warnf("network: ntp %s unreachable: %s", p.Server, err)
		} else {
			logger.Debugf("network: ntp %s unreachable: %s", p.Server, err)
		}
		return false
	}
	p.ok = true
	p.offset = resp.ClockOffset
	if !wasOK {
		logger.Infof("network: ntp %s reachable, clock offset %s", p.Server, resp.ClockOffset)
	}
	return true
}

// Offset returns the clock offset measured by the last successful query.
func (p *NTPProbe) Offset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

type all []types.Readiness

// All is ready when every non-nil probe is ready. Probes are consulted in
// order and the first failure short-circuits.
func All(probes ...types.Readiness) types.Readiness {
	var a all
	for _, p := range probes {
		if p != nil {
			a = append(a, p)
		}
	}
	return a
}

func (a all) Ready(ctx context.Context) bool {
	for _, p := range a {
		if !p.Ready(ctx) {
			return false
		}
	}
	return true
}
