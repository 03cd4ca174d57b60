// Package requestid assigns a request id to every HTTP request and carries
// it in the context for logs and audit entries.
//
// Middleware keeps an incoming X-Request-ID when it is 1 to 128 characters
// of letters, digits, '-' or '_'. Anything else is replaced with a random
// UUID. The id is echoed on the response either way.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//
// Handlers read the id back with FromContext:
//
//	if id, ok := requestid.FromContext(r.Context()); ok {
//		w.Header().Set("X-Trace", id)
//	}
//
// Audit events pick it up through audit.WithRequestIDExtractor.
package requestid
