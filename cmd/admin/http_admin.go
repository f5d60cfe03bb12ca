package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// fieldCmd fetches the observer view of a running server. Only loopback
// clients are served, so run it on the server host.
func fieldCmd(args []string) {
	fs := flag.NewFlagSet("field", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	eventID := fs.String("event", "", "look up one event by id instead of the field summary")
	_ = fs.Parse(args)

	p := "/v1/field"
	if id := strings.TrimSpace(*eventID); id != "" {
		p = "/v1/events/" + id
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + p
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
