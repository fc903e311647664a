package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/peercall/internal/models"
)

// relayAPI is the room and login half of the relay's HTTP surface.
type relayAPI struct {
	baseURL string
	http    *http.Client
	token   string
}

func newRelayAPI(baseURL string) *relayAPI {
	return &relayAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *relayAPI) login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	a.token = resp.Token
	return &resp, nil
}

func (a *relayAPI) createRoom(ctx context.Context) (*models.CreateRoomResponse, error) {
	var resp models.CreateRoomResponse
	if err := a.do(ctx, http.MethodPost, "/api/rooms", models.CreateRoomRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return &resp, nil
}

func (a *relayAPI) getRoom(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	var room models.RoomMetadata
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(identifier), nil, &room); err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", identifier, err)
	}
	return &room, nil
}

func (a *relayAPI) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
