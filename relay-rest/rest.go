// Package relayrest provides REST API utilities with CORS support and common middleware.
package relayrest

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	relaycli "github.com/relaykit/relay/relay-cli"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
)

func Middlewares(service relaycli.Service, routes chi.Router) chi.Router {
	routes.Use(
		withCORS(),
		withLogger(relaycli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

func Webserver(service relaycli.Service, routes chi.Router) error {
	logger := relaycli.Logger(service)

	if relaycli.CommonOpts.Console {
		logger.Info().Int("port", relaycli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", relaycli.CommonOpts.Port)
		return http.ListenAndServe(addr, routes)
	}

	if service.Subpath != "" {
		lambda.Start(apigateway.Wrap(routes, relaycli.CommonOpts.Env, service.Subpath))
		return nil
	}
	lambda.Start(apigateway.Wrap(routes, relaycli.CommonOpts.Env))
	return nil
}

func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
