// Package geoview is a small CoreDNS plugin that resolves the querying
// client's source address to an ISO 3166-1 alpha-2 country code and
// publishes it as metadata, so the `view` plugin can select a country
// pool without a hand-rolled resolver. Grounded in the way the `gslb`
// CoreDNS plugin loads and queries a MaxMind country database directly.
package geoview

import (
	"context"
	"net/netip"

	"github.com/coredns/coredns/plugin"
	"github.com/coredns/coredns/plugin/metadata"
	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/coredns/coredns/request"
	"github.com/miekg/dns"
	"github.com/oschwald/geoip2-golang/v2"
)

var log = clog.NewWithPlugin("geoview")

// Label is the metadata key this plugin publishes, read back out of the
// Corefile's `view` blocks as `metadata('geoview/country')`.
const Label = "geoview/country"

// GeoView looks up the querying client's country in a MaxMind
// GeoLite2-Country-compatible database and exposes it through the
// metadata plugin for downstream view selection.
type GeoView struct {
	Next plugin.Handler

	DBPath string
	reader *geoip2.Reader
}

// Name implements plugin.Handler.
func (g *GeoView) Name() string { return "geoview" }

// ServeDNS implements plugin.Handler. geoview never answers or rewrites
// a query itself; it only makes country metadata available to plugins
// later in the chain, so it always passes through to Next.
func (g *GeoView) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	return plugin.NextOrFailure(g.Name(), g.Next, ctx, w, r)
}

// Metadata implements the metadata.Provider interface: it registers a
// lazily evaluated country lookup for the life of the request.
func (g *GeoView) Metadata(ctx context.Context, state request.Request) context.Context {
	metadata.SetValueFunc(ctx, Label, func() string {
		return g.country(state)
	})
	return ctx
}

func (g *GeoView) country(state request.Request) string {
	addr, err := netip.ParseAddr(state.IP())
	if err != nil {
		log.Debugf("invalid client address %q: %v", state.IP(), err)
		return ""
	}

	result, err := g.reader.Country(addr)
	if err != nil {
		log.Debugf("country lookup for %s failed: %v", addr, err)
		return ""
	}
	if result.Country.ISOCode == "" {
		return ""
	}
	return result.Country.ISOCode
}

// Close releases the underlying MaxMind database handle.
func (g *GeoView) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
