// Command healthcheck probes the local monitor for container health checks. It exits non-zero
// unless the probed endpoint answers 200.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// probeURL resolves the endpoint from HEALTHCHECK_URL, else the port of HTTP_ADDR.
// HEALTHCHECK_READY=1 probes /readyz instead of /healthz.
func probeURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return u
	}
	port := "8080"
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
			port = addr[i+1:]
		}
	}
	path := "/healthz"
	if os.Getenv("HEALTHCHECK_READY") == "1" {
		path = "/readyz"
	}
	return "http://localhost:" + port + path
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
