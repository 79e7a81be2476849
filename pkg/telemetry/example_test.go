package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/stevedore-io/stevedore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "stevedored"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.New(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Agent started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.WithComponent("engine")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"reconcile_id": "run-123",
		"resource_id":  "resource-456",
	})

	// Log at different levels
	logger.Debug("Building execution plan")
	logger.Info("Container created successfully")
	logger.Warn("Removal deferred, volume still mounted")

	// Log with error
	err := fmt.Errorf("engine unreachable")
	logger.WithError(err).Error("Failed to query engine capabilities")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "reconcile.run")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("plan.id", "plan-789"),
		attribute.Int("plan.units", 5),
	)

	// Add event
	span.AddEvent("plan.built")

	// Nested span
	ctx, childSpan := tel.Tracer.Start(ctx, "unit.execute")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("resource.id", "resource-456"),
		attribute.String("operation", "create"),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Record reconcile run metrics
	tel.Metrics.RecordRunStarted("manifest")

	// Simulate run execution
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordRunCompleted("succeeded", duration)

	// Record plan unit metrics
	tel.Metrics.RecordUnitExecution(
		"create",            // operation
		"succeeded",         // status
		25*time.Millisecond, // duration
		"container",         // resource kind
	)

	// Record engine call metrics
	tel.Metrics.RecordGatewayCall("CreateContainer", 15*time.Millisecond)

	// Record error metrics
	tel.Metrics.RecordError("transient", "TIMEOUT")

	// Set resource counts
	tel.Metrics.SetResourceCount("container", "running", 4)
	tel.Metrics.SetResourceCount("volume", "created", 2)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishReconcileStarted("run-123", "manifest")
	tel.Events.PublishUnitStarted("run-123", "u-1", "resource-456", "create")
	tel.Events.PublishUnitCompleted("run-123", "u-1", "resource-456", 25*time.Millisecond)

	// Output varies due to async nature, no output specified
}

// Example_runInstrumentation demonstrates instrumenting a complete reconcile run.
func Example_runInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start run context
	runID := "run-123"
	ctx = telemetry.WithRunContext(ctx, runID, "manifest")

	// Execute run (simulated)
	executeRun(ctx, runID)

	// End run context
	telemetry.EndRunContext(ctx, runID, "succeeded", nil)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

func executeRun(ctx context.Context, runID string) {
	// Simulate plan unit execution
	unitID := "u-1"
	resourceID := "resource-456"
	operation := "create"

	ctx = telemetry.WithUnitContext(ctx, runID, unitID, resourceID, operation)

	// Get logger from context
	logger := telemetry.FromContext(ctx)
	logger.Info("Executing plan unit")

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// End unit context
	telemetry.EndUnitContext(ctx, runID, unitID, resourceID, operation, "container", "succeeded", nil)
}

// Example_gatewayInstrumentation demonstrates instrumenting engine calls.
func Example_gatewayInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record a gateway operation
	err := telemetry.RecordGatewayOperation(ctx, "PullImage", func() error {
		// Simulate engine work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Gateway operation completed successfully")
	}

	// Output: Gateway operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "manifest.load",
		attribute.String("manifest.path", "/etc/stevedore/workloads.yaml"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Loading manifest")

	// Simulate parsing
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Manifest validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only orphan events)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Orphan event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeOrphanDetected))

	// Publish various events
	tel.Events.PublishReconcileStarted("run-123", "manifest") // Info - filtered by level filter
	tel.Events.PublishOrphanDetected("resource-1", "volume")  // Warning - passes level filter
	tel.Events.PublishReconcileFailed("run-123", "error")     // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "stevedored"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "stevedore"

	// Configure events
	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "gateway.PullImage")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("connection timeout")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Record error metric with classification
		tel.Metrics.RecordError("transient", "TIMEOUT")

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Engine call failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component agent.
func Example_multipleComponents() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	engineLogger := tel.Logger.WithComponent("engine")
	manifestLogger := tel.Logger.WithComponent("manifest")
	depotLogger := tel.Logger.WithComponent("depot")

	engineLogger.Info("Reconciler initialized")
	manifestLogger.Info("Watching manifest paths")
	depotLogger.Info("Depot polling enabled")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
