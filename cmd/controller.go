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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/controller"
	"github.com/cyberun-cloud/simplegslb/internal/coordinator"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

var (
	controllerMetricsAddr     string
	controllerProbeAddr       string
	controllerInterval        time.Duration
	controllerProbeTimeout    time.Duration
	controllerConcurrency     int
	controllerGeoIP           bool
	controllerGeoIPDBPath     string
	controllerSerialDBPath    string
	controllerPublishDir      string
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the GslbConfig reconciliation loop",
	Long: `Runs the controller-runtime manager that watches GslbConfig objects,
maintains the in-memory Spec Store, and drives the Health Prober, Zone
Synthesizer and Atomic Publisher on every tick.`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(controllerCmd)

	controllerCmd.Flags().StringVar(&controllerMetricsAddr, "metrics-bind-address", "0", "address the metrics endpoint binds to, 0 disables it")
	controllerCmd.Flags().StringVar(&controllerProbeAddr, "health-probe-bind-address", ":8081", "address the health probe endpoint binds to")
	controllerCmd.Flags().DurationVar(&controllerInterval, "interval", 10*time.Second, "probe interval and zone TTL")
	controllerCmd.Flags().DurationVar(&controllerProbeTimeout, "probe-timeout", 0, "per-probe timeout, defaults to half the interval")
	controllerCmd.Flags().IntVar(&controllerConcurrency, "probe-concurrency", 16, "maximum simultaneous in-flight probes")
	controllerCmd.Flags().BoolVar(&controllerGeoIP, "geoip", false, "enable country-keyed view synthesis via the geoview plugin")
	controllerCmd.Flags().StringVar(&controllerGeoIPDBPath, "geoip-db", "/etc/coredns/GeoLite2-Country.mmdb", "path to the MaxMind GeoLite2-Country-compatible database the geoview plugin loads")
	controllerCmd.Flags().StringVar(&controllerSerialDBPath, "serial-db", "/var/lib/simplegslb/serial.db", "path to the durable SOA serial counter database")
	controllerCmd.Flags().StringVar(&controllerPublishDir, "publish-dir", "/var/lib/simplegslb/published", "root directory the Atomic Publisher writes generations under")

	_ = viper.BindPFlag("controller.geoip", controllerCmd.Flags().Lookup("geoip"))
	_ = viper.BindPFlag("controller.interval", controllerCmd.Flags().Lookup("interval"))
}

func runController(cmd *cobra.Command, args []string) error {
	setupLog := ctrl.Log.WithName("controller")

	scheme := clientgoscheme.Scheme
	utilruntime.Must(gslbv1.AddToScheme(scheme))

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: controllerMetricsAddr},
		HealthProbeBindAddress: controllerProbeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	specStore := store.New()

	if err := (&controller.GslbConfigReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Store:  specStore,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "GslbConfig")
		return err
	}

	if err := os.MkdirAll(filepath.Dir(controllerSerialDBPath), 0o755); err != nil {
		return err
	}

	co, err := coordinator.New(coordinator.Config{
		Store:        specStore,
		Interval:     viper.GetDuration("controller.interval"),
		ProbeTimeout: controllerProbeTimeout,
		Concurrency:  controllerConcurrency,
		GeoIP:        viper.GetBool("controller.geoip"),
		GeoIPDBPath:  controllerGeoIPDBPath,
		SerialDBPath: controllerSerialDBPath,
		PublishDir:   controllerPublishDir,
	})
	if err != nil {
		setupLog.Error(err, "unable to start coordinator")
		return err
	}
	defer co.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		setupLog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- mgr.Start(ctx) }()
	go func() { errCh <- co.Run(ctx) }()

	err = <-errCh
	if err != nil && err != context.Canceled {
		setupLog.Error(err, "controller stopped with error")
		return err
	}
	return nil
}
