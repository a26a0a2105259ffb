package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /token.
//
// The endpoint is OAuth2 password-flow shaped, so the body is form-encoded,
// not JSON. 400 and 401 both mean bad username/password here.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	r := request{
		method:      http.MethodPost,
		path:        "/token",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}

	var resp tokenResponse
	if err := do(ctx, c, r, &resp); err != nil {
		var apiErr *apperr.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			apiErr.Kind = apperr.ErrInvalidCredentials
		}
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("login: %w: empty access_token", apperr.ErrMalformed)
	}
	return resp.AccessToken, nil
}

// Signup handles POST /users/
func (c *Client) Signup(ctx context.Context, username, email, password string) error {
	r, err := jsonRequest(http.MethodPost, "/users/", "", signupRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}
	return do[struct{}](ctx, c, r, nil)
}

// Identity handles GET /users/me
func (c *Client) Identity(ctx context.Context, token string) (*models.Identity, error) {
	r := request{method: http.MethodGet, path: "/users/me", token: token}

	var id models.Identity
	if err := do(ctx, c, r, &id); err != nil {
		return nil, err
	}
	if id.Username == "" {
		return nil, fmt.Errorf("identity: %w: missing username", apperr.ErrMalformed)
	}
	return &id, nil
}
