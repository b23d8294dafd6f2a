// Package dockerfacade is the multi-host Docker facade (spec C3): one
// cached client per configured host, TLS for remote Docker daemons, and a
// circuit breaker that stops hammering a host that just failed.
//
// Grounded on the teacher's docker/client.go for the cached-client-plus-
// logger shape and the connect-then-ping-fail-fast idiom, and on
// Will-Luck-Docker-Sentinel/internal/docker/client.go for the TLS
// transport construction used on the remote-host path (local hosts never
// need TLS; the teacher's single-host design had no such path at all).
package dockerfacade

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// HostClient wraps one host's Docker SDK client together with the
// logger and host metadata callers need for error messages.
type HostClient struct {
	HostID string
	sdk    *dockerclient.Client
	logger *slog.Logger
}

// Facade caches one HostClient per host_id and tracks a circuit breaker
// per host, so a host that is down doesn't cost every caller a fresh TCP
// connect attempt and 30s HTTP client library timeout on each request.
type Facade struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*HostClient
	hosts   map[string]models.Host

	breakerMu sync.Mutex
	breaker   map[string]breakerState

	cooldown time.Duration
}

type breakerState struct {
	failedAt time.Time
	errMsg   string
}

// ErrCircuitOpen is returned by Client when a host's breaker is tripped
// and still within its cooldown window.
type ErrCircuitOpen struct {
	HostID string
	ErrMsg string
	Until  time.Time
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("dockerfacade: circuit open for host %q until %s: %s", e.HostID, e.Until.Format(time.RFC3339), e.ErrMsg)
}

// New constructs a Facade for the given configured hosts. No connections
// are made yet — clients are constructed lazily on first use via Client,
// so a host that is temporarily unreachable at startup doesn't prevent
// the manager itself from starting.
func New(logger *slog.Logger, hosts []models.Host, cooldown time.Duration) *Facade {
	hostMap := make(map[string]models.Host, len(hosts))
	for _, h := range hosts {
		hostMap[h.HostID] = h
	}
	return &Facade{
		logger:   logger,
		clients:  make(map[string]*HostClient),
		hosts:    hostMap,
		breaker:  make(map[string]breakerState),
		cooldown: cooldown,
	}
}

// Client returns the cached HostClient for hostID, constructing and
// pinging one on first use. If the host's breaker is open, it returns
// ErrCircuitOpen without attempting a connection.
func (f *Facade) Client(ctx context.Context, hostID string) (*HostClient, error) {
	if state, tripped := f.breakerTripped(hostID); tripped {
		return nil, state
	}

	f.mu.Lock()
	if c, ok := f.clients[hostID]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	host, ok := f.hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("dockerfacade: unknown host %q", hostID)
	}

	c, err := f.connect(ctx, host)
	if err != nil {
		f.trip(hostID, err)
		return nil, err
	}

	f.mu.Lock()
	f.clients[hostID] = c
	f.mu.Unlock()
	f.clear(hostID)
	return c, nil
}

func (f *Facade) connect(ctx context.Context, host models.Host) (*HostClient, error) {
	var opts []dockerclient.Opt

	if host.IsLocal || host.DockerHost == "" {
		opts = append(opts, dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	} else {
		opts = append(opts, dockerclient.WithHost(host.DockerHost), dockerclient.WithAPIVersionNegotiation())
		if host.TLSCACert != "" && host.TLSCert != "" && host.TLSKey != "" {
			tlsCfg, err := loadTLS(host.TLSCACert, host.TLSCert, host.TLSKey)
			if err != nil {
				return nil, fmt.Errorf("dockerfacade: configure TLS for host %q: %w", host.HostID, err)
			}
			if u, parseErr := url.Parse(host.DockerHost); parseErr == nil {
				tlsCfg.ServerName = u.Hostname()
			}
			opts = append(opts, dockerclient.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
					TLSClientConfig:       tlsCfg,
					IdleConnTimeout:       90 * time.Second,
					TLSHandshakeTimeout:   10 * time.Second,
					ResponseHeaderTimeout: 30 * time.Second,
				},
			}))
		} else {
			opts = append(opts, dockerclient.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				},
			}))
		}
	}

	sdk, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("dockerfacade: create client for host %q: %w", host.HostID, err)
	}

	hc := &HostClient{HostID: host.HostID, sdk: sdk, logger: f.logger.With("host_id", host.HostID)}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := sdk.Ping(pingCtx); err != nil {
		_ = sdk.Close()
		return nil, fmt.Errorf("dockerfacade: ping host %q: %w", host.HostID, err)
	}

	hc.logger.Info("docker client connected", "docker_host", host.DockerHost, "is_local", host.IsLocal)
	return hc, nil
}

func loadTLS(caPath, certPath, keyPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parse CA cert %s", caPath)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (f *Facade) breakerTripped(hostID string) (*ErrCircuitOpen, bool) {
	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()
	state, ok := f.breaker[hostID]
	if !ok {
		return nil, false
	}
	until := state.failedAt.Add(f.cooldown)
	if time.Now().After(until) {
		return nil, false
	}
	return &ErrCircuitOpen{HostID: hostID, ErrMsg: state.errMsg, Until: until}, true
}

func (f *Facade) trip(hostID string, err error) {
	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()
	f.breaker[hostID] = breakerState{failedAt: time.Now(), errMsg: err.Error()}
	metrics.HostCircuitOpen.WithLabelValues(hostID).Set(1)
}

func (f *Facade) clear(hostID string) {
	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()
	delete(f.breaker, hostID)
	metrics.HostCircuitOpen.WithLabelValues(hostID).Set(0)
}

// HostIDs returns every configured host ID, for fan-out callers (health
// and host handlers, proxy reconcile, crash recovery, retention) that
// need to iterate every host.
func (f *Facade) HostIDs() []string {
	ids := make([]string, 0, len(f.hosts))
	for id := range f.hosts {
		ids = append(ids, id)
	}
	return ids
}

// Host returns the configured host metadata for hostID.
func (f *Facade) Host(hostID string) (models.Host, bool) {
	h, ok := f.hosts[hostID]
	return h, ok
}

// IsLocal reports whether hostID is configured as the local host.
func (f *Facade) IsLocal(hostID string) (bool, error) {
	host, ok := f.hosts[hostID]
	if !ok {
		return false, fmt.Errorf("dockerfacade: unknown host %q", hostID)
	}
	return host.IsLocal, nil
}

// Invalidate drops a cached client, forcing the next Client call to
// reconnect, and trips the breaker. Callers use this after a
// connection-level error from an otherwise-cached client (e.g. the
// daemon restarted), since a cached client from before the restart
// would fail every call forever without ever going through connect again.
func (f *Facade) Invalidate(hostID string, err error) {
	f.mu.Lock()
	if c, ok := f.clients[hostID]; ok {
		_ = c.sdk.Close()
		delete(f.clients, hostID)
	}
	f.mu.Unlock()
	f.trip(hostID, err)
}

// CircuitOpen reports whether hostID's breaker is currently tripped, for
// status/health reporting callers that want to surface breaker state
// without making a connection attempt themselves.
func (f *Facade) CircuitOpen(hostID string) (until time.Time, open bool) {
	if state, ok := f.breakerTripped(hostID); ok {
		return state.Until, true
	}
	return time.Time{}, false
}
