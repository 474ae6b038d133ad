package notify

import (
	"context"
	"encoding/json"

	"cms-backend/internal/model"
	ws "cms-backend/internal/websocket"
)

// HubNotifier pushes lifecycle events onto the websocket hub so connected
// dashboards update live. Recipients are ignored since the hub broadcasts.
type HubNotifier struct {
	hub *ws.Hub
}

func NewHubNotifier(hub *ws.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

type hubEvent struct {
	Kind     Kind           `json:"kind"`
	CRNumber string         `json:"cr_number"`
	Status   model.CRStatus `json:"status"`
	Title    string         `json:"title"`
}

func (n *HubNotifier) Send(ctx context.Context, kind Kind, cr *model.ChangeRequest, recipients []string) error {
	payload, err := json.Marshal(hubEvent{
		Kind:     kind,
		CRNumber: cr.CRNumber,
		Status:   cr.Status,
		Title:    cr.Title,
	})
	if err != nil {
		return err
	}
	// Non-blocking: a hub with no running dispatch loop must not stall callers.
	select {
	case n.hub.Broadcast <- payload:
	default:
	}
	return nil
}
