package main

import (
	"fmt"
	"net/http"
	"strconv"

	"gametable/server/internal/net/ws"
)

// queryAuthenticator trusts identity from query parameters. Account
// management lives outside this server; deployments put a reverse proxy in
// front that validates the session and rewrites these parameters.
type queryAuthenticator struct{}

func (queryAuthenticator) Authenticate(r *http.Request) (ws.Identity, error) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	if err != nil {
		return ws.Identity{}, fmt.Errorf("missing or invalid user: %w", err)
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("user-%d", userID)
	}
	return ws.Identity{UserID: userID, Name: name}, nil
}
