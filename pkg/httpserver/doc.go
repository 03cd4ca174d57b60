// Package httpserver runs an http.Server until its context is cancelled or
// the process receives SIGINT or SIGTERM, then shuts it down gracefully.
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
package httpserver
