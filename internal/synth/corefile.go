package synth

import (
	"bytes"
	"fmt"

	"github.com/cyberun-cloud/simplegslb/internal/store"
)

// buildCorefile renders the Corefile fragment for every domain, wiring
// in country-keyed view selection (spec.md §4.3, §9) when GeoIP is
// enabled. Each domain gets its own server block so an operator can
// drop a single generated file into a CoreDNS `import` directive.
//
// zones is assumed sorted by (Domain, View), as Synthesize leaves it.
func (s *Synthesizer) buildCorefile(zones []Zone, snap []*store.Domain) []byte {
	var buf bytes.Buffer

	byDomain := map[string][]Zone{}
	var domains []string
	for _, z := range zones {
		if _, ok := byDomain[z.Domain]; !ok {
			domains = append(domains, z.Domain)
		}
		byDomain[z.Domain] = append(byDomain[z.Domain], z)
	}

	for _, domain := range domains {
		domainZones := byDomain[domain]
		fmt.Fprintf(&buf, "%s:53 {\n", domain)

		if s.Options.GeoIP && len(domainZones) > 1 {
			fmt.Fprintf(&buf, "    metadata\n")
			fmt.Fprintf(&buf, "    geoview %s\n", s.Options.GeoIPDBPath)
			for _, z := range domainZones {
				if z.View == defaultView {
					continue
				}
				fmt.Fprintf(&buf, "    view %s {\n", z.View)
				fmt.Fprintf(&buf, "        expr metadata('geoview/country') == '%s'\n", z.View)
				fmt.Fprintf(&buf, "    }\n")
			}
			fmt.Fprintf(&buf, "    view %s {\n", defaultView)
			fmt.Fprintf(&buf, "        expr true\n")
			fmt.Fprintf(&buf, "    }\n")

			for _, z := range domainZones {
				fmt.Fprintf(&buf, "    file %s {\n", z.Filename)
				fmt.Fprintf(&buf, "        view %s\n", z.View)
				fmt.Fprintf(&buf, "    }\n")
			}
		} else {
			// GeoIP disabled, or no country view is currently in use: serve
			// the default zone unconditionally, per spec.md §4.3.
			fmt.Fprintf(&buf, "    file %s\n", defaultZoneOf(domainZones).Filename)
		}

		fmt.Fprintf(&buf, "    health\n")
		fmt.Fprintf(&buf, "    ready\n")
		fmt.Fprintf(&buf, "    reload\n")
		fmt.Fprintf(&buf, "    errors\n")
		fmt.Fprintf(&buf, "    log\n")
		fmt.Fprintf(&buf, "}\n\n")
	}

	return buf.Bytes()
}

// defaultZoneOf returns the default-view zone among a domain's zones.
// Synthesize always includes it (spec.md §4.3), so zones is never
// missing one.
func defaultZoneOf(zones []Zone) Zone {
	for _, z := range zones {
		if z.View == defaultView {
			return z
		}
	}
	return zones[0]
}
