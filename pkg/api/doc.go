// Package api provides a RESTful HTTP API server for the connection
// guard control plane.
//
// The API server exposes endpoints for:
//   - CIDR rule management (create, read, delete)
//   - Exempt command management
//   - The enforcement configuration record (mode and target)
//   - Dry-run decisions for hypothetical connections
//   - Decision statistics, health checks and status
//
// # Example Usage
//
//	server, err := api.NewAPIServer(api.DefaultConfig(), api.Backend{
//	    Policy:    policyManager,
//	    Stats:     eng,
//	    Evaluator: eng,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
// # Endpoints
//
// Health check:
//   - GET /api/v1/health  - Simple health check
//   - GET /api/v1/status  - Detailed system status
//
// Rules:
//   - POST   /api/v1/rules     - Add a CIDR to the allow or deny table
//   - GET    /api/v1/rules     - List rules
//   - GET    /api/v1/rules/:id - Get rule
//   - DELETE /api/v1/rules/:id - Delete rule
//
// Commands:
//   - POST   /api/v1/commands       - Exempt a command
//   - GET    /api/v1/commands       - List exempt commands
//   - DELETE /api/v1/commands/:name - Remove an exemption
//
// Configuration and decisions:
//   - GET  /api/v1/config    - Current mode and target
//   - PUT  /api/v1/config    - Replace mode and target
//   - POST /api/v1/decisions - Evaluate an attempt without auditing it
//   - GET  /api/v1/stats     - Decision counters
//
// # Middleware
//
// The server includes the following middleware:
//   - Recovery: Catches panics and prevents server crashes
//   - Logger: Logs all HTTP requests with timing information
//   - CORS: Optional cross-origin headers
//
// # Thread Safety
//
// The API server handles concurrent requests. The policy manager and
// both engines are safe for concurrent use.
package api
