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

package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/coordinator"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

// fakeEndpoint is a TCP listener that accepts and immediately closes
// every connection, standing in for a healthy target without needing a
// real HTTP/TCP service under test.
type fakeEndpoint struct {
	ln   net.Listener
	host string
	port int32
}

func newFakeEndpoint() *fakeEndpoint {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	var port int
	_, err = fmt.Sscan(portStr, &port)
	Expect(err).NotTo(HaveOccurred())

	e := &fakeEndpoint{ln: ln, host: host, port: int32(port)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	return e
}

func (e *fakeEndpoint) target(location string, weight int32) gslbv1.Target {
	return gslbv1.Target{
		Address:  e.host,
		Port:     e.port,
		Protocol: gslbv1.ProtocolTCP,
		Location: location,
		Weight:   weight,
	}
}

// deadEndpoint reserves a port and closes the listener immediately, so
// connections to it are refused the way a down service would be.
func deadEndpoint() gslbv1.Target {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	ln.Close()
	var port int
	_, err = fmt.Sscan(portStr, &port)
	Expect(err).NotTo(HaveOccurred())
	return gslbv1.Target{Address: host, Port: int32(port), Protocol: gslbv1.ProtocolTCP}
}

func newCoordinator(st *store.Store, dir string) *coordinator.Coordinator {
	co, err := coordinator.New(coordinator.Config{
		Store:        st,
		Interval:     80 * time.Millisecond,
		ProbeTimeout: 40 * time.Millisecond,
		Concurrency:  8,
		SerialDBPath: filepath.Join(dir, "serial.db"),
		PublishDir:   filepath.Join(dir, "published"),
	})
	Expect(err).NotTo(HaveOccurred())
	return co
}

func readZone(co *coordinator.Coordinator, name string) string {
	content, err := os.ReadFile(filepath.Join(co.CurrentPath(), name))
	Expect(err).NotTo(HaveOccurred())
	return string(content)
}

var _ = Describe("full tick pipeline", func() {
	var (
		st  *store.Store
		dir string
		co  *coordinator.Coordinator
		ctx context.Context
		cancel context.CancelFunc
		done chan error
	)

	BeforeEach(func() {
		st = store.New()
		dir = GinkgoT().TempDir()
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		if co != nil {
			co.Close()
		}
	})

	run := func() {
		co = newCoordinator(st, dir)
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
		done = make(chan error, 1)
		go func() { done <- co.Run(ctx) }()
	}

	It("excludes a down target from the synthesized zone and keeps the up one", func() {
		up := newFakeEndpoint()
		down := deadEndpoint()

		Expect(st.Apply("default", "www", &gslbv1.GslbConfigSpec{
			Domain:      "gslb.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.gslb.example.com", Address: "203.0.113.10"}},
			Records: []gslbv1.Record{
				{Name: "www", Targets: []gslbv1.Target{up.target("", 1), down}},
			},
		}, 1)).To(Succeed())

		run()

		Eventually(func() string {
			content, err := os.ReadFile(filepath.Join(co.CurrentPath(), "gslb.example.com.default.zone"))
			if err != nil {
				return ""
			}
			return string(content)
		}, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring(up.host))

		zone := readZone(co, "gslb.example.com.default.zone")
		Expect(zone).To(ContainSubstring(up.host))
		// Both endpoints listen on 127.0.0.1, so the down target is told
		// apart by count: only the up target's single A record remains.
		Expect(strings.Count(zone, "www.gslb.example.com.")).To(Equal(1))
		Expect(zone).To(ContainSubstring("SOA"))
	})

	It("publishes an empty answer set (NXRRSET-equivalent) when every target is down", func() {
		Expect(st.Apply("default", "www", &gslbv1.GslbConfigSpec{
			Domain:      "alldown.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.alldown.example.com", Address: "203.0.113.11"}},
			Records: []gslbv1.Record{
				{Name: "www", Targets: []gslbv1.Target{deadEndpoint(), deadEndpoint()}},
			},
		}, 1)).To(Succeed())

		run()

		Eventually(func() string {
			content, err := os.ReadFile(filepath.Join(co.CurrentPath(), "alldown.example.com.default.zone"))
			if err != nil {
				return ""
			}
			return string(content)
		}, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring("SOA"))

		zone := readZone(co, "alldown.example.com.default.zone")
		lines := strings.Split(strings.TrimSpace(zone), "\n")
		// The in-zone nameserver's glue A record stays; the record itself
		// has no line at all.
		for _, l := range lines {
			Expect(l).NotTo(HavePrefix("www.alldown.example.com."))
		}
	})

	It("publishes a new generation as the store's content changes across ticks", func() {
		up := newFakeEndpoint()
		Expect(st.Apply("default", "www", &gslbv1.GslbConfigSpec{
			Domain:      "serial.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.serial.example.com", Address: "203.0.113.12"}},
			Records: []gslbv1.Record{
				{Name: "www", Targets: []gslbv1.Target{up.target("", 1)}},
			},
		}, 1)).To(Succeed())

		run()

		Eventually(func() string {
			content, err := os.ReadFile(filepath.Join(co.CurrentPath(), "serial.example.com.default.zone"))
			if err != nil {
				return ""
			}
			return string(content)
		}, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring(up.host))

		firstGen, err := os.Readlink(co.CurrentPath())
		Expect(err).NotTo(HaveOccurred())

		// Add a second record to force a content change and a republish.
		Expect(st.Apply("default", "www", &gslbv1.GslbConfigSpec{
			Domain:      "serial.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.serial.example.com", Address: "203.0.113.12"}},
			Records: []gslbv1.Record{
				{Name: "www", Targets: []gslbv1.Target{up.target("", 1)}},
				{Name: "api", Targets: []gslbv1.Target{up.target("", 1)}},
			},
		}, 2)).To(Succeed())

		Eventually(func() string {
			gen, err := os.Readlink(co.CurrentPath())
			if err != nil {
				return firstGen
			}
			return gen
		}, 2*time.Second, 20*time.Millisecond).ShouldNot(Equal(firstGen))

		zone := readZone(co, "serial.example.com.default.zone")
		Expect(zone).To(ContainSubstring("api"))
	})

	It("rejects a second config that claims an already-owned domain", func() {
		Expect(st.Apply("default", "first", &gslbv1.GslbConfigSpec{
			Domain:      "shared.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.shared.example.com", Address: "203.0.113.20"}},
			Records:     []gslbv1.Record{{Name: "www", Targets: []gslbv1.Target{deadEndpoint()}}},
		}, 1)).To(Succeed())

		err := st.Apply("default", "second", &gslbv1.GslbConfigSpec{
			Domain:      "shared.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns2.shared.example.com", Address: "203.0.113.21"}},
			Records:     []gslbv1.Record{{Name: "www", Targets: []gslbv1.Target{deadEndpoint()}}},
		}, 1)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("already claimed"))

		Expect(st.Snapshot()).To(HaveLen(1))
	})

	It("skips republishing when synthesized content is unchanged", func() {
		up := newFakeEndpoint()
		Expect(st.Apply("default", "www", &gslbv1.GslbConfigSpec{
			Domain:      "stable.example.com",
			Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.stable.example.com", Address: "203.0.113.30"}},
			Records: []gslbv1.Record{
				{Name: "www", Targets: []gslbv1.Target{up.target("", 1)}},
			},
		}, 1)).To(Succeed())

		run()

		Eventually(func() string {
			content, err := os.ReadFile(filepath.Join(co.CurrentPath(), "stable.example.com.default.zone"))
			if err != nil {
				return ""
			}
			return string(content)
		}, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring(up.host))

		firstGen, err := os.Readlink(co.CurrentPath())
		Expect(err).NotTo(HaveOccurred())

		// No store churn, no health transitions: consecutive ticks must
		// keep serving the same generation directory rather than bumping
		// the serial on unchanged content.
		Consistently(func() string {
			gen, err := os.Readlink(co.CurrentPath())
			if err != nil {
				return ""
			}
			return gen
		}, 500*time.Millisecond, 50*time.Millisecond).Should(Equal(firstGen))
	})
})
