// Package instrumentation provides OpenTelemetry instrumentation for the identity provider.
//
// Metrics cover the HTTP layer, the login and logout state machines, token issuance and
// verification, storage operations and upstream identity provider calls. Traces wrap the
// same operations.
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "idp",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", inst.PrometheusHandler())
//
// When Enabled is false, no-op providers are used and recording is free.
package instrumentation
