// Package main provides a CLI tool to generate the OpenAPI document for the revsync API.
// It registers the shared route definitions with stub handlers, so no database,
// platform credentials or other services are needed.
//
// Usage:
//
//	go run ./cmd/revsync-openapi > openapi.json
//	go run ./cmd/revsync-openapi -yaml > openapi.yaml
//	go run ./cmd/revsync-openapi -output openapi.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/revsync-api/internal/http/routes"
	"github.com/jmylchreest/revsync-api/internal/version"
)

func main() {
	outputFile := flag.String("output", "", "Output file path (default: stdout)")
	outputYAML := flag.Bool("yaml", false, "Output as YAML instead of JSON")
	downgrade := flag.Bool("openapi30", false, "Emit OpenAPI 3.0.3 instead of 3.1")
	baseURL := flag.String("base-url", "http://localhost:8080", "Base URL for the API server")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().Short())
		return
	}

	// Requests are never served from this router
	router := chi.NewRouter()
	api := humachi.New(router, routes.NewHumaConfig(*baseURL))
	routes.Register(api, routes.StubHandlers())

	data, err := render(api.OpenAPI(), *outputYAML, *downgrade)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing to file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "OpenAPI spec written to %s\n", *outputFile)
		return
	}
	fmt.Print(string(data))
}

// render encodes the document as JSON or YAML, optionally as OpenAPI 3.0.3.
func render(spec *huma.OpenAPI, asYAML, downgrade bool) ([]byte, error) {
	switch {
	case asYAML && downgrade:
		return spec.DowngradeYAML()
	case asYAML:
		return spec.YAML()
	case downgrade:
		return spec.Downgrade()
	default:
		return json.MarshalIndent(spec, "", "  ")
	}
}
