package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
)

// startLocal runs "docker compose up -d" against the rendered compose
// file (spec §4.6 Start dispatch, local host). Using the CLI rather than
// the Docker API here matches the original manager's behavior exactly:
// compose's own dependency/network bring-up logic is reused instead of
// reimplemented.
func startLocal(ctx context.Context, composePath string) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-f", composePath, "up", "-d")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("lifecycle: docker compose up -d for %q: %w: %s", composePath, err, stderr.String())
	}
	return nil
}

// stopLocal runs "docker compose down -v" (spec §4.6 Delete, local
// host), removing named volumes along with the containers.
func stopLocal(ctx context.Context, composePath string) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-f", composePath, "down", "-v")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("lifecycle: docker compose down -v for %q: %w: %s", composePath, err, stderr.String())
	}
	return nil
}

// startRemote creates and starts agentID's container on hostID via the
// Docker API (spec §4.6 Start dispatch, remote host), translating f's
// service definition into CreateArgs rather than shelling out, since
// there is no compose binary to invoke on the far side of a Docker
// socket.
func (c *Coordinator) startRemote(ctx context.Context, hostID, agentID string, f compose.File) (string, error) {
	client, err := c.facade.Client(ctx, hostID)
	if err != nil {
		return "", fmt.Errorf("lifecycle: connect to host %q: %w", hostID, err)
	}
	args, err := compose.ToCreateArgs(f, agentID)
	if err != nil {
		return "", err
	}
	id, err := client.CreateAndStart(ctx, args)
	if err != nil {
		return "", fmt.Errorf("lifecycle: start %q on %q: %w", agentID, hostID, err)
	}
	return id, nil
}
