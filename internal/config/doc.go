// Package config loads the agentcore configuration from the environment,
// optional .env files and an optional YAML agents file.
//
// Environment variables and defaults:
//
//	AGENTCORE_GRPC_ADDR          dispatch server address (localhost:50051)
//	AGENTCORE_HEALTH_ADDR        health and metrics server address (:8080)
//	AGENTCORE_SAMPLE_INTERVAL    system metrics sampling period (10s)
//	AGENTCORE_METRICS_RETENTION  samples kept per metric name (1000)
//	AGENTCORE_DEFAULT_MODE       single, parallel, sequential or loop (single)
//	AGENTCORE_MAX_ITERATIONS     loop passes (5)
//	AGENTCORE_CONVERGENCE_TOKEN  marker ending a loop early (CONVERGED)
//	AGENTCORE_CONCURRENCY_LIMIT  parallel fan-out bound, 0 for none (0)
//	AGENTCORE_FAIL_FAST          unknown agent ids are errors (false)
//	AGENTCORE_AGENTS_FILE        YAML agents, dashboards and alerts
//	GEMINI_API_KEY, GCP_PROJECT, GCP_LOCATION, GEMINI_MODEL
//	SERVICE_NAME, SERVICE_VERSION, ENVIRONMENT, LOG_LEVEL, OTLP_ENDPOINT
//
// Load usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.GRPCAddr)
package config
