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
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

// GslbConfigReconciler is the watch consumer described in spec.md §4.1:
// it turns GslbConfig create/update/delete events into Spec Store
// apply/remove calls. Unlike the teacher's infrastructure controllers,
// it owns no child Kubernetes resources: the zone files and Corefile it
// ultimately produces live outside the apiserver, written by the
// Atomic Publisher.
type GslbConfigReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Store  *store.Store
}

// +kubebuilder:rbac:groups=cyberun.cloud,resources=gslbconfigs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=cyberun.cloud,resources=gslbconfigs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=cyberun.cloud,resources=gslbconfigs/finalizers,verbs=update

// Reconcile fetches the GslbConfig named by req and applies it to the
// Spec Store, or removes it from the store if it no longer exists.
func (r *GslbConfigReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	cfg := &gslbv1.GslbConfig{}
	if err := r.Get(ctx, req.NamespacedName, cfg); err != nil {
		if client.IgnoreNotFound(err) == nil {
			log.Info("removing domain from spec store", "name", req.Name, "namespace", req.Namespace)
			r.Store.Remove(req.Namespace, req.Name)
			return ctrl.Result{}, nil
		}
		log.Error(err, "unable to fetch GslbConfig")
		return ctrl.Result{}, err
	}

	if err := r.Store.Apply(req.Namespace, req.Name, &cfg.Spec, cfg.Generation); err != nil {
		var verr *store.ValidationError
		reason, message := "ValidationFailed", err.Error()
		if errors.As(err, &verr) {
			message = verr.Error()
		}
		log.Error(err, "rejected GslbConfig", "name", req.Name, "namespace", req.Namespace)
		return ctrl.Result{}, r.setCondition(ctx, cfg, metav1.ConditionFalse, reason, message)
	}

	return ctrl.Result{}, r.setCondition(ctx, cfg, metav1.ConditionTrue, "Applied", "accepted into the spec store")
}

func (r *GslbConfigReconciler) setCondition(ctx context.Context, cfg *gslbv1.GslbConfig, status metav1.ConditionStatus, reason, message string) error {
	cfg.Status.ObservedGeneration = cfg.Generation
	cfg.Status.Conditions = []metav1.Condition{
		{
			Type:               "Ready",
			Status:             status,
			ObservedGeneration: cfg.Generation,
			LastTransitionTime: metav1.Now(),
			Reason:             reason,
			Message:            message,
		},
	}
	return r.Status().Update(ctx, cfg)
}

// SetupWithManager sets up the controller with the Manager.
func (r *GslbConfigReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&gslbv1.GslbConfig{}).
		Named("gslbconfig").
		Complete(r)
}
