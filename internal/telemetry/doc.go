// Package telemetry exports memengine traces and metrics over OTLP.
//
// The vector store clients and the admin server create their spans and
// instruments through the otel globals; New installs its providers there
// when telemetry is enabled:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures degrade the instance instead of failing startup.
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  insecure: true          # loopback only
//	  service_name: memengine
//	  sample_rate: 1.0
//	  metrics_enabled: true
//	  export_interval: 15s
//
// Tests use NewTestTelemetry, which records in memory.
package telemetry
