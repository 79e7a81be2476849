// Package telemetry provides observability instrumentation for the agent.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring reconcile activity on a device.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics on a private registry
//  4. Event Publishing - Async event system used as a status-egress sink
//
// # Usage
//
// Initialize telemetry at agent startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stevedored"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.WithComponent("engine")
//	logger = logger.WithReconcileID("run-123").WithResource("resource-456")
//	logger.Info("Applying desired snapshot")
//	logger.WithError(err).Error("Container create failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into reconcile flow and gateway latency:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("resource.id", resourceID),
//	    attribute.String("operation", "create"),
//	)
//
//	// Record events
//	span.AddEvent("plan.built")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), None (testing)
//
// # Metrics
//
// Prometheus metrics track reconcile behavior and engine latency:
//
//	// Record reconcile runs
//	tel.Metrics.RecordRunStarted("manifest")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//
//	// Record plan unit execution
//	tel.Metrics.RecordUnitExecution("create", "succeeded", duration, "container")
//
//	// Record engine calls
//	tel.Metrics.RecordGatewayCall("CreateContainer", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishReconcileStarted(runID, trigger)
//	tel.Events.PublishUnitCompleted(runID, unitID, resourceID, duration)
//	tel.Events.PublishOrphanDetected(resourceID, "container")
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByResourceID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "manifest.load",
//	    attribute.String("manifest.path", path))
//	defer ic.End(err)
//
//	ic.Logger.Info("Loading manifest")
//
//	// Reconcile run context
//	ctx = telemetry.WithRunContext(ctx, runID, trigger)
//	defer telemetry.EndRunContext(ctx, runID, status, err)
//
//	// Plan unit context
//	ctx = telemetry.WithUnitContext(ctx, runID, unitID, resourceID, operation)
//	defer telemetry.EndUnitContext(ctx, runID, unitID, resourceID, operation, kind, status, err)
//
//	// Gateway operation
//	err := telemetry.RecordGatewayOperation(ctx, "PullImage", func() error {
//	    return gw.PullImage(ctx, req)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "stevedored",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// Tracing is disabled in DefaultConfig: a fleet device must keep reconciling
// when no collector is reachable.
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - stevedore_reconcile_runs_started_total{trigger}
//   - stevedore_reconcile_runs_completed_total{status}
//   - stevedore_reconcile_run_duration_seconds{status}
//   - stevedore_plan_units_executed_total{operation,status}
//   - stevedore_plan_unit_duration_seconds{operation,kind}
//   - stevedore_plan_unit_retries_total{operation}
//   - stevedore_resources_managed{kind,state}
//   - stevedore_orphans_detected_total{kind}
//   - stevedore_gateway_calls_total{operation}
//   - stevedore_gateway_call_duration_seconds{operation}
//   - stevedore_errors_by_class_total{class}
//   - stevedore_active_runs
//
// # Performance Considerations
//
// The telemetry system is designed for minimal overhead on constrained
// devices:
//
//   - Structured logging uses zerolog's zero-allocation approach
//   - Tracing uses sampling to reduce data volume in production
//   - Events are buffered and batched to reduce I/O
//   - All operations are non-blocking when possible
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures all buffered events are published and all pending traces are
// exported.
package telemetry
