// Package synth implements the Zone Synthesizer: it turns a Spec Store
// snapshot and a Health Prober table into authoritative zone files and a
// Corefile fragment for the data-plane CoreDNS instance to serve.
package synth

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/prober"
	"github.com/cyberun-cloud/simplegslb/internal/serial"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

// ErrSynthesis wraps every failure encountered while building a zone.
var ErrSynthesis = errors.New("zone synthesis failed")

// Zone is one fully rendered authoritative zone, ready for the Atomic
// Publisher to write to disk. View is the split-horizon partition this
// file serves: a country code, or "default" for clients whose country
// has no dedicated pool.
type Zone struct {
	Domain   string
	View     string
	Filename string
	Content  []byte
	Serial   uint32
}

// Result is the complete output of one synthesis pass: every zone file
// plus the Corefile fragment that wires them into the CoreDNS instance.
type Result struct {
	Zones    []Zone
	Corefile []byte
}

// Options configures a Synthesizer.
type Options struct {
	// TTL is used for every RR and as the SOA refresh/retry/expire base;
	// spec.md §4.3 ties it to the probe interval so a record's TTL never
	// outlives the health data backing it.
	TTL uint32

	// GeoIP toggles whether the synthesizer emits per-country view
	// blocks (spec.md §6 "controller.geoip"). When false only the
	// default pool is considered and the Corefile carries no
	// view/metadata blocks.
	GeoIP bool

	// GeoIPDBPath is the well-known path to the MaxMind
	// GeoLite2-Country-compatible database (spec.md §6, "GeoIP
	// database") the data plane's geoview plugin loads; only emitted
	// into the Corefile when GeoIP is true.
	GeoIPDBPath string
}

const defaultGeoIPDBPath = "/etc/coredns/GeoLite2-Country.mmdb"

// Synthesizer builds Result values from a store snapshot and a health
// table, persisting SOA serials through Serials so they never regress
// across restarts.
type Synthesizer struct {
	Serials *serial.Store
	Options Options
}

// New returns a Synthesizer backed by the given serial store.
func New(serials *serial.Store, opts Options) *Synthesizer {
	if opts.TTL == 0 {
		opts.TTL = 10
	}
	if opts.GeoIPDBPath == "" {
		opts.GeoIPDBPath = defaultGeoIPDBPath
	}
	return &Synthesizer{Serials: serials, Options: opts}
}

// Synthesize builds one Zone per view of every domain in snap, using
// health to decide which targets are eligible to appear in each record's
// answer.
func (s *Synthesizer) Synthesize(snap []*store.Domain, health *prober.Table) (*Result, error) {
	res := &Result{}

	for _, d := range snap {
		zones, err := s.synthesizeViews(d, health)
		if err != nil {
			return nil, fmt.Errorf("%w: domain %s: %v", ErrSynthesis, d.Domain, err)
		}
		for _, z := range zones {
			res.Zones = append(res.Zones, *z)
		}
	}

	sort.Slice(res.Zones, func(i, j int) bool {
		if res.Zones[i].Domain != res.Zones[j].Domain {
			return res.Zones[i].Domain < res.Zones[j].Domain
		}
		return res.Zones[i].View < res.Zones[j].View
	})
	res.Corefile = s.buildCorefile(res.Zones, snap)
	return res, nil
}

// defaultView names the distinguished partition spec.md §3's
// ViewPartition always carries, served to any client whose country has
// no dedicated pool (or always, when GeoIP is disabled).
const defaultView = "default"

// synthesizeViews builds one Zone per distinct country an up target in d
// declares, plus the default view, per spec.md §4.3. When GeoIP is
// disabled only the default view is built, per spec.md §4.3's "When
// GeoIP is disabled ... only the default zone is emitted".
func (s *Synthesizer) synthesizeViews(d *store.Domain, health *prober.Table) ([]*Zone, error) {
	views := []string{defaultView}
	if s.Options.GeoIP {
		views = append(views, usedCountries(d, health)...)
	}

	zones := make([]*Zone, 0, len(views))
	for _, view := range views {
		zone, err := s.synthesizeZone(d, view, health)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

// usedCountries returns, sorted, every country code carried by an up
// target anywhere in d: spec.md §4.3 only allocates a view for a
// country that actually has a live target somewhere in the config.
func usedCountries(d *store.Domain, health *prober.Table) []string {
	seen := map[string]bool{}
	for _, rec := range d.Records {
		for _, t := range rec.Targets {
			if t.Location == "" {
				continue
			}
			k := prober.Key{DomainKey: d.Key, RecordName: rec.Name, Address: t.Address, Port: t.Port}
			if health.Lookup(k).Status == prober.StatusUp {
				seen[t.Location] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Synthesizer) synthesizeZone(d *store.Domain, view string, health *prober.Table) (*Zone, error) {
	ttl := s.Options.TTL
	filename := fmt.Sprintf("%s.%s.zone", d.Domain, view)

	ser, err := s.Serials.Next(filename)
	if err != nil {
		return nil, fmt.Errorf("allocate serial: %w", err)
	}

	var buf bytes.Buffer
	origin := dns.Fqdn(d.Domain)
	primaryNS := dns.Fqdn(d.Nameservers[0].Hostname)

	soa := &dns.SOA{
		Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: ttl},
		Ns:      primaryNS,
		Mbox:    "hostmaster." + origin,
		Serial:  ser,
		Refresh: ttl,
		Retry:   maxUint32(ttl/2, 1),
		Expire:  ttl * 24,
		Minttl:  ttl,
	}
	fmt.Fprintln(&buf, soa.String())

	for _, ns := range d.Nameservers {
		rr := &dns.NS{
			Hdr: dns.RR_Header{Name: origin, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: ttl},
			Ns:  dns.Fqdn(ns.Hostname),
		}
		fmt.Fprintln(&buf, rr.String())
	}
	for _, ns := range d.Nameservers {
		if !dns.IsSubDomain(origin, dns.Fqdn(ns.Hostname)) {
			continue // glue only makes sense for in-zone nameserver names
		}
		ip, err := parseIPv4(ns.Address)
		if err != nil {
			return nil, fmt.Errorf("nameserver %s: %w", ns.Hostname, err)
		}
		rr := &dns.A{
			Hdr: dns.RR_Header{Name: dns.Fqdn(ns.Hostname), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   ip,
		}
		fmt.Fprintln(&buf, rr.String())
	}

	for _, rec := range d.Records {
		owner := recordOwner(rec.Name, origin)
		for _, t := range eligibleForView(d.Key, rec, view, health) {
			ip, err := parseIPv4(t.Address)
			if err != nil {
				return nil, fmt.Errorf("record %s target %s: %w", rec.Name, t.Address, err)
			}
			for i := int32(0); i < weightOrOne(t.Weight); i++ {
				rr := &dns.A{
					Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
					A:   ip,
				}
				fmt.Fprintln(&buf, rr.String())
			}
		}
	}

	return &Zone{
		Domain:   d.Domain,
		View:     view,
		Filename: filename,
		Content:  buf.Bytes(),
		Serial:   ser,
	}, nil
}

// eligibleForView implements spec.md §4.3/§8's geo preference and
// fallback rules for one record in one view: the view's own up,
// same-country targets if any exist, else the up default-location
// (empty Location) targets, else no answer at all (NXRRSET) — a down or
// unknown target is never eligible on its own, matching the "Unhealthy
// exclusion" invariant in spec.md §8.
func eligibleForView(domainKey string, rec gslbv1.Record, view string, health *prober.Table) []gslbv1.Target {
	up := func(location string) []gslbv1.Target {
		out := make([]gslbv1.Target, 0, len(rec.Targets))
		for _, t := range rec.Targets {
			if t.Location != location {
				continue
			}
			k := prober.Key{DomainKey: domainKey, RecordName: rec.Name, Address: t.Address, Port: t.Port}
			if health.Lookup(k).Status == prober.StatusUp {
				out = append(out, t)
			}
		}
		return out
	}

	if view != defaultView {
		if country := up(view); len(country) > 0 {
			return country
		}
	}
	return up("")
}

func weightOrOne(w int32) int32 {
	if w <= 0 {
		return 1
	}
	return w
}

func recordOwner(name, origin string) string {
	if name == "@" {
		return origin
	}
	return dns.Fqdn(name + "." + strings.TrimSuffix(origin, "."))
}

func parseIPv4(addr string) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%q is not a valid IPv4 address", addr)
	}
	return ip.To4(), nil
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
