// Package telemetry sets up OpenTelemetry metric and trace providers.
//
// With telemetry.otlp_endpoint empty, providers are created without
// exporters: instruments work but nothing leaves the process. With an
// endpoint, metrics and spans are pushed over OTLP/gRPC.
package telemetry
