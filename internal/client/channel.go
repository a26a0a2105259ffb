package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/models"
)

// listLimit matches the page size the web client asked for.
const listLimit = 100

type channelRecord struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func toChannels(records []channelRecord) []models.Channel {
	channels := make([]models.Channel, 0, len(records))
	for _, r := range records {
		channels = append(channels, models.Channel{ID: r.ID, Name: r.Name})
	}
	return channels
}

// ListAllChannels handles GET /channels/
func (c *Client) ListAllChannels(ctx context.Context, token string) ([]models.Channel, error) {
	r := request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/channels/?skip=0&limit=%d", listLimit),
		token:  token,
	}
	var records []channelRecord
	if err := do(ctx, c, r, &records); err != nil {
		return nil, err
	}
	return toChannels(records), nil
}

// ListMyMemberships handles GET /channels/my-memberships
func (c *Client) ListMyMemberships(ctx context.Context, token string) ([]models.Channel, error) {
	r := request{method: http.MethodGet, path: "/channels/my-memberships", token: token}
	var records []channelRecord
	if err := do(ctx, c, r, &records); err != nil {
		return nil, err
	}
	return toChannels(records), nil
}

// JoinChannel handles POST /channels/:id/join
func (c *Client) JoinChannel(ctx context.Context, token string, channelID uuid.UUID) error {
	r := request{method: http.MethodPost, path: "/channels/" + channelID.String() + "/join", token: token}
	return do[struct{}](ctx, c, r, nil)
}

// LeaveChannel handles DELETE /channels/:id/leave
func (c *Client) LeaveChannel(ctx context.Context, token string, channelID uuid.UUID) error {
	r := request{method: http.MethodDelete, path: "/channels/" + channelID.String() + "/leave", token: token}
	return do[struct{}](ctx, c, r, nil)
}
