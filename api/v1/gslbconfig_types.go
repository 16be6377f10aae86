/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GslbConfigSpec defines a zone apex, its nameservers, and the records
// SimpleGSLB should keep healthy and published for that zone.
type GslbConfigSpec struct {
	// Domain is the FQDN served as the zone apex for this configuration.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Domain string `json:"domain"`

	// Nameservers is the ordered set of NS records (plus glue A records
	// for in-zone hostnames) advertised for Domain.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinItems=1
	Nameservers []Nameserver `json:"nameservers"`

	// Records is the ordered set of owner names under Domain that
	// SimpleGSLB probes and resolves.
	// +optional
	Records []Record `json:"records,omitempty"`
}

// Nameserver is an authoritative nameserver for a GslbConfig's domain.
type Nameserver struct {
	// Hostname is the nameserver's FQDN, used as NS RDATA and, when it
	// falls within Domain, as the owner of a glue A record.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Hostname string `json:"hostname"`

	// Address is the IPv4 literal used for the glue A record.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`
	Address string `json:"address"`
}

// Record is a single owner name under a GslbConfig's domain together
// with the set of targets that may answer for it.
type Record struct {
	// Name is a single DNS label relative to Domain, or "@" for the
	// zone apex itself.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Targets is the ordered set of candidate endpoints for Name.
	// +optional
	Targets []Target `json:"targets,omitempty"`
}

// Protocol selects the health-probe kind used for a Target.
// +kubebuilder:validation:Enum=http;https;tcp
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolTCP   Protocol = "tcp"
)

// Target is one operator-declared endpoint for a Record.
type Target struct {
	// Address is the IPv4 literal used as A record RDATA and as the
	// probe destination.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`
	Address string `json:"address"`

	// Location is an ISO 3166-1 alpha-2 country code, or empty for the
	// global/default pool.
	// +optional
	// +kubebuilder:validation:Pattern=`^([A-Z]{2})?$`
	Location string `json:"location,omitempty"`

	// Weight is the relative frequency of this target's A record among
	// its pool, realized by repeating the RR Weight times.
	// +optional
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=1
	Weight int32 `json:"weight,omitempty"`

	// Protocol selects the probe kind for this target.
	// +kubebuilder:validation:Required
	Protocol Protocol `json:"protocol"`

	// Port is the TCP port probed and, for http/https, connected to.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port"`

	// Path is the HTTP(S) request path probed. Ignored for tcp.
	// +optional
	// +kubebuilder:default="/"
	// +kubebuilder:validation:Pattern=`^/.*$`
	Path string `json:"path,omitempty"`
}

// GslbConfigStatus reports the most recently published generation for
// this configuration's domain.
type GslbConfigStatus struct {
	// Conditions represents the latest available observations of this
	// GslbConfig's reconciliation state.
	// +optional
	// +patchMergeKey=type
	// +patchStrategy=merge
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`

	// ObservedGeneration reflects the generation most recently applied
	// to the in-memory Spec Store.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// PublishedSerial is the SOA serial of the last generation that
	// successfully included this domain's zone files.
	// +optional
	PublishedSerial int64 `json:"publishedSerial,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=gslb
// +kubebuilder:printcolumn:name="Domain",type=string,JSONPath=`.spec.domain`
// +kubebuilder:printcolumn:name="Serial",type=integer,JSONPath=`.status.publishedSerial`
// +kubebuilder:printcolumn:name="Ready",type=string,JSONPath=`.status.conditions[?(@.type=="Ready")].status`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// GslbConfig is the Schema for the gslbconfigs API.
type GslbConfig struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GslbConfigSpec    `json:"spec,omitempty"`
	Status GslbConfigStatus  `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// GslbConfigList contains a list of GslbConfig.
type GslbConfigList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []GslbConfig `json:"items"`
}

func init() {
	SchemeBuilder.Register(&GslbConfig{}, &GslbConfigList{})
}
