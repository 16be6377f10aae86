// Package store holds the in-memory Spec Store: the reconciled view of
// every GslbConfig object the platform has told us about, kept separate
// from the Kubernetes client so the rest of the pipeline never blocks on
// the apiserver.
package store

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
)

// ErrValidation is wrapped by every rejected-object error returned from
// Apply, so callers can errors.Is(err, ErrValidation) to distinguish a
// bad object from a programming error.
var ErrValidation = errors.New("gslbconfig validation failed")

// ValidationError names the object and field responsible for a rejected
// Apply call.
type ValidationError struct {
	Namespace string
	Name      string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s/%s: %s: %s", e.Namespace, e.Name, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ApplyResult reports the outcome of a batch relist: every object that
// failed validation is collected rather than only the last one.
type ApplyResult struct {
	Accepted []string
	Rejected []*ValidationError
}

// Domain is the fully validated, store-internal representation of a
// GslbConfig. It intentionally drops Kubernetes object metadata other
// than the namespaced name, which is all the rest of the pipeline needs.
type Domain struct {
	Key         string
	Domain      string
	Nameservers []gslbv1.Nameserver
	Records     []gslbv1.Record
	Generation  int64
}

// Store is the reconciled, goroutine-safe set of known GslbConfig
// objects keyed by "namespace/name". Reads return immutable snapshots so
// the prober and synthesizer never observe a partially applied update
// and never hold the store's lock while doing I/O.
type Store struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// New returns an empty Store.
func New() *Store {
	return &Store{domains: make(map[string]*Domain)}
}

// Apply validates and inserts or replaces the object identified by key.
// A rejected object is dropped: any previously accepted version stored
// under the same key is removed.
func (s *Store) Apply(namespace, name string, spec *gslbv1.GslbConfigSpec, generation int64) error {
	key := namespacedName(namespace, name)
	d, err := validate(namespace, name, spec)
	if err != nil {
		s.Remove(namespace, name)
		return err
	}
	d.Key = key
	d.Generation = generation

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.domainOwner(d.Domain, key); ok {
		delete(s.domains, key)
		return &ValidationError{namespace, name, "spec.domain",
			fmt.Sprintf("domain %q is already claimed by %q", d.Domain, owner)}
	}
	s.domains[key] = d
	return nil
}

// domainOwner reports the key of the existing domain entry (other than
// except) that already serves the given domain name, if any.
func (s *Store) domainOwner(domain, except string) (string, bool) {
	for key, d := range s.domains {
		if key != except && d.Domain == domain {
			return key, true
		}
	}
	return "", false
}

// Remove deletes the object identified by (namespace, name), if present.
// Removing an unknown key is a no-op, matching the idempotent delete
// semantics a watch consumer needs after a NotFound Get.
func (s *Store) Remove(namespace, name string) {
	key := namespacedName(namespace, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, key)
}

// Replace atomically swaps the entire store contents for the result of a
// batch relist, validating every candidate object first. Objects that
// fail validation are omitted from the new contents and reported in the
// returned ApplyResult, rather than aborting the whole relist.
func (s *Store) Replace(candidates map[string]*gslbv1.GslbConfig) *ApplyResult {
	res := &ApplyResult{}
	next := make(map[string]*Domain, len(candidates))
	claimed := make(map[string]string, len(candidates)) // domain -> owning key

	keys := make([]string, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		obj := candidates[key]
		d, err := validate(obj.Namespace, obj.Name, &obj.Spec)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				res.Rejected = append(res.Rejected, verr)
			}
			continue
		}
		if owner, ok := claimed[d.Domain]; ok {
			res.Rejected = append(res.Rejected, &ValidationError{
				obj.Namespace, obj.Name, "spec.domain",
				fmt.Sprintf("domain %q is already claimed by %q", d.Domain, owner),
			})
			continue
		}
		claimed[d.Domain] = key
		d.Key = key
		d.Generation = obj.Generation
		next[key] = d
		res.Accepted = append(res.Accepted, key)
	}

	s.mu.Lock()
	s.domains = next
	s.mu.Unlock()

	sort.Strings(res.Accepted)
	return res
}

// Snapshot returns an immutable copy of every known domain, sorted by
// key for deterministic downstream processing (zone file ordering,
// test assertions).
func (s *Store) Snapshot() []*Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func namespacedName(namespace, name string) string {
	return namespace + "/" + name
}

// validate applies the structural rules spec.md §4.1 requires of a
// GslbConfig before it is allowed into the store: a well-formed domain,
// no duplicate record names, and every target syntactically sound.
func validate(namespace, name string, spec *gslbv1.GslbConfigSpec) (*Domain, error) {
	if spec.Domain == "" {
		return nil, &ValidationError{namespace, name, "spec.domain", "must not be empty"}
	}
	if !isValidFQDN(spec.Domain) {
		return nil, &ValidationError{namespace, name, "spec.domain", fmt.Sprintf("%q is not a valid FQDN", spec.Domain)}
	}
	if len(spec.Nameservers) == 0 {
		return nil, &ValidationError{namespace, name, "spec.nameservers", "must have at least one entry"}
	}
	for i, ns := range spec.Nameservers {
		if ns.Hostname == "" {
			return nil, &ValidationError{namespace, name, fmt.Sprintf("spec.nameservers[%d].hostname", i), "must not be empty"}
		}
		if net.ParseIP(ns.Address) == nil || strings.Contains(ns.Address, ":") {
			return nil, &ValidationError{namespace, name, fmt.Sprintf("spec.nameservers[%d].address", i), fmt.Sprintf("%q is not a valid IPv4 address", ns.Address)}
		}
	}

	seen := make(map[string]bool, len(spec.Records))
	for i, rec := range spec.Records {
		if rec.Name == "" {
			return nil, &ValidationError{namespace, name, fmt.Sprintf("spec.records[%d].name", i), "must not be empty"}
		}
		if seen[rec.Name] {
			return nil, &ValidationError{namespace, name, fmt.Sprintf("spec.records[%d].name", i), fmt.Sprintf("duplicate record name %q", rec.Name)}
		}
		seen[rec.Name] = true

		for j, t := range rec.Targets {
			field := fmt.Sprintf("spec.records[%d].targets[%d]", i, j)
			if net.ParseIP(t.Address) == nil || strings.Contains(t.Address, ":") {
				return nil, &ValidationError{namespace, name, field + ".address", fmt.Sprintf("%q is not a valid IPv4 address", t.Address)}
			}
			if t.Port < 1 || t.Port > 65535 {
				return nil, &ValidationError{namespace, name, field + ".port", fmt.Sprintf("%d is out of range 1-65535", t.Port)}
			}
			switch t.Protocol {
			case gslbv1.ProtocolHTTP, gslbv1.ProtocolHTTPS, gslbv1.ProtocolTCP:
			default:
				return nil, &ValidationError{namespace, name, field + ".protocol", fmt.Sprintf("unknown protocol %q", t.Protocol)}
			}
			if t.Weight < 0 {
				return nil, &ValidationError{namespace, name, field + ".weight", "must not be negative"}
			}
		}
	}

	return &Domain{
		Domain:      spec.Domain,
		Nameservers: append([]gslbv1.Nameserver(nil), spec.Nameservers...),
		Records:     append([]gslbv1.Record(nil), spec.Records...),
	}, nil
}

// isValidFQDN is a pragmatic label-based check, not a full RFC 1035
// parser: every label is 1-63 characters of letters, digits or hyphens,
// so the name has no empty labels; a single trailing dot is allowed.
func isValidFQDN(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return false
	}
	labels := strings.Split(name, ".")
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return false
		}
		for _, r := range l {
			if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
	}
	return true
}
