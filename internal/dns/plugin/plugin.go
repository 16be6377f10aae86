// Package plugin registers the CoreDNS plugins available to the
// SimpleGSLB data plane: those the synthesized Corefile emits, plus
// bind, cache and forward for hand-written Corefiles.
package plugin

import (
	// Core server components
	_ "github.com/coredns/coredns/core/dnsserver"

	// Zone serving and country-keyed view selection
	_ "github.com/coredns/coredns/plugin/file"     // Serves the synthesized zone files
	_ "github.com/coredns/coredns/plugin/metadata" // Carries geoview's country label through the chain
	_ "github.com/coredns/coredns/plugin/view"     // Selects a server block by expr against metadata

	_ "github.com/cyberun-cloud/simplegslb/internal/dns/plugin/geoview" // Publishes the geoview/country metadata label

	// Essential plugins for split-horizon DNS
	_ "github.com/coredns/coredns/plugin/bind"    // Network interface binding
	_ "github.com/coredns/coredns/plugin/cache"   // Response caching
	_ "github.com/coredns/coredns/plugin/errors"  // Error logging
	_ "github.com/coredns/coredns/plugin/forward" // Upstream DNS forwarding
	_ "github.com/coredns/coredns/plugin/health"  // Health endpoint
	_ "github.com/coredns/coredns/plugin/log"     // Query logging
	_ "github.com/coredns/coredns/plugin/ready"   // Readiness endpoint
	_ "github.com/coredns/coredns/plugin/reload"  // Auto-reload when the Atomic Publisher swaps generations
)
