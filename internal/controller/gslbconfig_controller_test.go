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

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

var _ = Describe("GslbConfig Controller", func() {
	const resourceName = "test-domain"
	const resourceNamespace = "default"

	ctx := context.Background()
	typeNamespacedName := types.NamespacedName{Name: resourceName, Namespace: resourceNamespace}

	var (
		k8sClient  client.Client
		st         *store.Store
		reconciler *GslbConfigReconciler
	)

	BeforeEach(func() {
		scheme := newTestScheme()
		k8sClient = fake.NewClientBuilder().WithScheme(scheme).WithStatusSubresource(&gslbv1.GslbConfig{}).Build()
		st = store.New()
		reconciler = &GslbConfigReconciler{Client: k8sClient, Scheme: scheme, Store: st}
	})

	Context("When reconciling a valid GslbConfig", func() {
		BeforeEach(func() {
			cfg := &gslbv1.GslbConfig{
				ObjectMeta: metav1.ObjectMeta{Name: resourceName, Namespace: resourceNamespace},
				Spec: gslbv1.GslbConfigSpec{
					Domain:      "gslb.example.com",
					Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.gslb.example.com", Address: "203.0.113.10"}},
					Records: []gslbv1.Record{
						{Name: "www", Targets: []gslbv1.Target{{Address: "198.51.100.1", Protocol: gslbv1.ProtocolTCP, Port: 80}}},
					},
				},
			}
			Expect(k8sClient.Create(ctx, cfg)).To(Succeed())
		})

		It("applies the domain to the spec store and marks it ready", func() {
			_, err := reconciler.Reconcile(ctx, reconcile.Request{NamespacedName: typeNamespacedName})
			Expect(err).NotTo(HaveOccurred())

			snap := st.Snapshot()
			Expect(snap).To(HaveLen(1))
			Expect(snap[0].Domain).To(Equal("gslb.example.com"))

			updated := &gslbv1.GslbConfig{}
			Expect(k8sClient.Get(ctx, typeNamespacedName, updated)).To(Succeed())
			Expect(updated.Status.Conditions).To(HaveLen(1))
			Expect(updated.Status.Conditions[0].Status).To(Equal(metav1.ConditionTrue))
		})
	})

	Context("When reconciling an invalid GslbConfig", func() {
		BeforeEach(func() {
			cfg := &gslbv1.GslbConfig{
				ObjectMeta: metav1.ObjectMeta{Name: resourceName, Namespace: resourceNamespace},
				Spec: gslbv1.GslbConfigSpec{
					Domain:      "",
					Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.gslb.example.com", Address: "203.0.113.10"}},
				},
			}
			Expect(k8sClient.Create(ctx, cfg)).To(Succeed())
		})

		It("rejects it from the spec store and reports a non-ready condition", func() {
			_, err := reconciler.Reconcile(ctx, reconcile.Request{NamespacedName: typeNamespacedName})
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Snapshot()).To(BeEmpty())

			updated := &gslbv1.GslbConfig{}
			Expect(k8sClient.Get(ctx, typeNamespacedName, updated)).To(Succeed())
			Expect(updated.Status.Conditions[0].Status).To(Equal(metav1.ConditionFalse))
		})
	})

	Context("When the GslbConfig no longer exists", func() {
		It("removes the domain from the spec store", func() {
			Expect(st.Apply(resourceNamespace, resourceName, &gslbv1.GslbConfigSpec{
				Domain:      "gslb.example.com",
				Nameservers: []gslbv1.Nameserver{{Hostname: "ns1.gslb.example.com", Address: "203.0.113.10"}},
			}, 1)).To(Succeed())

			_, err := reconciler.Reconcile(ctx, reconcile.Request{NamespacedName: typeNamespacedName})
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Snapshot()).To(BeEmpty())
		})
	})
})
