package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
)

// agentSubdirs lists every subdirectory spec §4.6 step 6 requires,
// paired with its mode. audit_keys and .secrets are 0700 because they
// hold material the container's own ownership change (step 9) should
// never extend to.
var agentSubdirs = []struct {
	name string
	mode os.FileMode
}{
	{"data", 0o755},
	{"data_archive", 0o755},
	{"logs", 0o755},
	{"config", 0o755},
	{"audit_keys", 0o700},
	{".secrets", 0o700},
}

// runtimeUID/runtimeGID are the in-container user the agent process
// runs as; data directories are handed to this ownership so the
// container can write to its own bind mounts without running as root
// (spec §4.6 step 9).
const (
	runtimeUID = 1000
	runtimeGID = 1000
)

// materializeLocalDir creates agentDir and its subdirectories with the
// documented modes, copies the shared init_permissions.sh script in,
// and chowns the data directories to runtimeUID:runtimeGID. The compose
// file itself is written separately (by the caller, after this returns)
// and is deliberately left owned by the manager process.
func materializeLocalDir(agentDir, initScriptSrc string) error {
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return fmt.Errorf("lifecycle: create agent directory %q: %w", agentDir, err)
	}
	for _, sub := range agentSubdirs {
		path := filepath.Join(agentDir, sub.name)
		if err := os.MkdirAll(path, sub.mode); err != nil {
			return fmt.Errorf("lifecycle: create %q: %w", path, err)
		}
		// MkdirAll does not apply mode to a directory that already
		// existed; force it explicitly so a re-create always matches
		// the documented table.
		if err := os.Chmod(path, sub.mode); err != nil {
			return fmt.Errorf("lifecycle: chmod %q: %w", path, err)
		}
		if sub.name == "data" || sub.name == "data_archive" || sub.name == "logs" || sub.name == "config" {
			if err := os.Chown(path, runtimeUID, runtimeGID); err != nil {
				// Non-fatal: an unprivileged manager process (e.g. in a
				// test sandbox or rootless container) cannot chown to an
				// arbitrary UID; the agent's own entrypoint script
				// (init_permissions.sh) retries this from inside the
				// container where it usually has the right capability.
				continue
			}
		}
	}

	if initScriptSrc != "" {
		if err := copyInitScript(initScriptSrc, filepath.Join(agentDir, "init_permissions.sh")); err != nil {
			return err
		}
	}
	return nil
}

func copyInitScript(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("lifecycle: open init script %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("lifecycle: create init script %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("lifecycle: copy init script to %q: %w", dst, err)
	}
	return nil
}

// directoryMaterializer handles the remote counterpart of
// materializeLocalDir. Remote directories are created only by an exec
// in the host's reverse-proxy container; there is no helper-container
// fallback, so when that container is missing or the exec fails the
// error is returned to the caller.
type directoryMaterializer struct {
	facade *dockerfacade.Facade
}

// materializeRemote creates remoteAgentDir and its subdirectories (and
// copies in initScriptContents) on hostID via docker exec in
// execContainer (the host's standing reverse-proxy container, which
// every configured host runs), with the same modes as the local path.
func (d directoryMaterializer) materializeRemote(ctx context.Context, hostID, execContainer, remoteAgentDir string, initScriptContents []byte) error {
	client, err := d.facade.Client(ctx, hostID)
	if err != nil {
		return fmt.Errorf("lifecycle: connect to host %q: %w", hostID, err)
	}

	script := buildRemoteMkdirScript(remoteAgentDir)
	if _, err := client.Exec(ctx, execContainer, []string{"sh", "-c", script}); err != nil {
		return fmt.Errorf("lifecycle: materialize remote directory %q on %q: %w", remoteAgentDir, hostID, err)
	}

	if len(initScriptContents) > 0 {
		writeScript := fmt.Sprintf("cat > %s/init_permissions.sh << 'EOF'\n%s\nEOF\nchmod 755 %s/init_permissions.sh\n",
			remoteAgentDir, string(initScriptContents), remoteAgentDir)
		if _, err := client.Exec(ctx, execContainer, []string{"sh", "-c", writeScript}); err != nil {
			return fmt.Errorf("lifecycle: write remote init script on %q: %w", hostID, err)
		}
	}
	return nil
}

func buildRemoteMkdirScript(agentDir string) string {
	script := fmt.Sprintf("mkdir -p %s\n", agentDir)
	for _, sub := range agentSubdirs {
		path := agentDir + "/" + sub.name
		script += fmt.Sprintf("mkdir -p %s && chmod %o %s\n", path, sub.mode, path)
	}
	// Data directories are chowned to the runtime UID from inside the
	// container, which already runs as (or can sudo to) that identity;
	// the manager's own exec user on the host may not be able to.
	for _, name := range []string{"data", "data_archive", "logs", "config"} {
		script += fmt.Sprintf("chown %d:%d %s/%s 2>/dev/null || true\n", runtimeUID, runtimeGID, agentDir, name)
	}
	return script
}
