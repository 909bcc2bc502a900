package server

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// queryInt reads an integer query parameter; def when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return def
	}
	return n
}

// getEnvInt reads an integer environment variable; def when unset or malformed.
func getEnvInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}
