package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/starford/reliefnet/internal/api"
	"github.com/starford/reliefnet/internal/hub"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF8C00")).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	inactiveStyle = cellStyle.Foreground(lipgloss.Color("#888888"))
)

// StatusClient reads the hub status surface.
type StatusClient struct {
	base  string
	token string
	http  *http.Client
}

// NewStatusClient returns a client for the hub HTTP surface at base, e.g.
// "http://localhost:8080".
func NewStatusClient(base, token string) *StatusClient {
	return &StatusClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *StatusClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("status: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status: GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("status: decode %s: %w", path, err)
	}
	return nil
}

// Peers fetches the hub peer table.
func (c *StatusClient) Peers(ctx context.Context) ([]hub.PeerRecord, error) {
	var out []hub.PeerRecord
	if err := c.get(ctx, "/api/peers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Volunteers fetches the hub volunteer directory.
func (c *StatusClient) Volunteers(ctx context.Context) ([]hub.VolunteerRecord, error) {
	var out []hub.VolunteerRecord
	if err := c.get(ctx, "/api/volunteers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the hub counters.
func (c *StatusClient) Stats(ctx context.Context) (api.HubStatsResponse, error) {
	var out api.HubStatsResponse
	if err := c.get(ctx, "/api/stats", &out); err != nil {
		return api.HubStatsResponse{}, err
	}
	return out, nil
}

// Status prints the hub peer table and volunteer directory to w.
func Status(ctx context.Context, c *StatusClient, w io.Writer) error {
	peers, err := c.Peers(ctx)
	if err != nil {
		return err
	}
	vols, err := c.Volunteers(ctx)
	if err != nil {
		return err
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, renderPeers(peers, time.Now()))
	fmt.Fprintln(w, renderVolunteers(vols))
	if stats.DroppedFrames > 0 {
		fmt.Fprintln(w, inactiveStyle.Render(fmt.Sprintf("%d frames dropped on a full hub inbox", stats.DroppedFrames)))
	}
	return nil
}

func renderPeers(peers []hub.PeerRecord, now time.Time) string {
	active := make(map[int]bool, len(peers))
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("NODE", "ADDRESS", "STATE", "LAST SEEN")
	for i, p := range peers {
		state := "lost"
		if p.Active {
			state = "active"
			active[i] = true
		}
		t.Row(p.NodeID, p.Addr, state, now.Sub(p.LastSeen).Truncate(time.Second).String()+" ago")
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case active[row]:
			return cellStyle
		default:
			return inactiveStyle
		}
	})
	return fmt.Sprintf("Nodes (%d)\n%s", len(peers), t.Render())
}

func renderVolunteers(vols []hub.VolunteerRecord) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("USER", "NODE", "SERVICE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, v := range vols {
		t.Row(v.UserID, v.NodeID, v.Service)
	}
	return fmt.Sprintf("Volunteers (%d)\n%s", len(vols), t.Render())
}
