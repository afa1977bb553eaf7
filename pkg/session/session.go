package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetagent/pkg/backup"
	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/fileiface"
	"github.com/cuemby/fleetagent/pkg/firewall"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/network"
	"github.com/cuemby/fleetagent/pkg/reconciler"
	"github.com/cuemby/fleetagent/pkg/runtime"
	"github.com/cuemby/fleetagent/pkg/storage"
	"github.com/cuemby/fleetagent/pkg/types"
)

const reconnectBackoff = 5 * time.Second

// Session owns the single duplex control channel and every piece of
// per-command state the dispatch table needs. The reconciler and its
// event reader receive only narrow handles (the runtime driver, the event
// broker, and the Session as an Emitter); the heartbeat, health/stats
// reporters and CNI GC loop are Session methods and use the whole Session.
type Session struct {
	cfg *config.Config

	driver     *runtime.Driver
	reconciler *reconciler.Reconciler
	backups    *backup.Manager
	uploads    *backup.UploadRegistry
	storage    *storage.Manager
	files      *fileiface.Interface
	firewall   *firewall.Driver
	networks   *network.Manager

	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	logStreamsMu sync.Mutex
	logStreams   map[string]*runtime.LogStream

	downloadsMu sync.Mutex
	downloads   map[string]*backup.Download

	startedAt time.Time
}

// New assembles a Session from every subsystem it dispatches into. cfg's
// Server fields supply the connect URL and handshake credentials.
func New(
	cfg *config.Config,
	driver *runtime.Driver,
	recon *reconciler.Reconciler,
	backups *backup.Manager,
	storageMgr *storage.Manager,
	files *fileiface.Interface,
	fw *firewall.Driver,
	networks *network.Manager,
) *Session {
	return &Session{
		cfg:        cfg,
		driver:     driver,
		reconciler: recon,
		backups:    backups,
		uploads:    backup.NewUploadRegistry(),
		storage:    storageMgr,
		files:      files,
		firewall:   fw,
		networks:   networks,
		logger:     log.WithComponent("session"),
		logStreams: make(map[string]*runtime.LogStream),
		downloads:  make(map[string]*backup.Download),
		startedAt:  time.Now(),
	}
}

// Run drives the connect loop until ctx is cancelled: dial, handshake,
// reconcile, dispatch inbound messages, and on any termination sleep 5 s
// and redial. The reconciler's own event reader and periodic sweep are
// started once for the process lifetime, not per connection: they
// tolerate an absent control channel by logging, and re-starting them on
// every reconnect would spawn duplicate event readers.
func (s *Session) Run(ctx context.Context) error {
	go s.reconciler.Start(ctx)
	go s.cniGCLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("control session ended, reconnecting")
		}
		metrics.SessionConnected.Set(0)
		metrics.UpdateComponent("session", false, "disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
		metrics.SessionReconnectsTotal.Inc()
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial control channel: %w", err)
	}
	defer conn.Close()

	s.setConn(conn)
	defer s.setConn(nil)

	metrics.SessionConnected.Set(1)
	metrics.RegisterComponent("session", true, "connected")
	s.logger.Info().Str("url", s.cfg.Server.BackendURL).Msg("control session connected")

	s.handshake()
	s.restoreConsoles(ctx)

	if err := s.reconciler.ReconcileNow(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial reconcile failed")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.heartbeatLoop(sessionCtx)
	go s.healthReportLoop(sessionCtx)
	go s.resourceStatsLoop(sessionCtx)

	return s.readLoop(sessionCtx, conn)
}

// dialURL builds "<backend>?nodeId=<id>&token=<secret>".
func (s *Session) dialURL() string {
	u, err := url.Parse(s.cfg.Server.BackendURL)
	if err != nil {
		return s.cfg.Server.BackendURL
	}
	q := u.Query()
	q.Set("nodeId", s.cfg.Server.NodeID)
	q.Set("token", s.cfg.Server.Secret)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) setConn(c *websocket.Conn) {
	s.writeMu.Lock()
	s.conn = c
	s.writeMu.Unlock()
}

func (s *Session) handshake() {
	s.Emit(types.MsgNodeHandshake, map[string]any{
		"nodeId":   s.cfg.Server.NodeID,
		"secret":   s.cfg.Server.Secret,
		"hostname": s.cfg.Server.Hostname,
	})
}

// restoreConsoles reattaches a host-side FIFO writer for every container
// the runtime currently reports running.
func (s *Session) restoreConsoles(ctx context.Context) {
	containers, err := s.driver.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list containers for console restore")
		return
	}
	var running []string
	for _, c := range containers {
		if c.Running {
			running = append(running, c.Name)
		}
	}
	s.driver.RestoreConsoleWriters(running)
}

// cniGCLoop periodically sweeps every configured CNI network's host-local
// allocation directory for entries no running container holds.
// Runs for the process lifetime; the GC's own safety rules make a sweep
// during any connection state harmless.
func (s *Session) cniGCLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range s.networks.Names() {
				if err := s.driver.CleanStaleIPAllocations(ctx, name); err != nil {
					s.logger.Warn().Err(err).Str("network", name).Msg("cni allocation gc failed")
				}
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Emit(types.MsgHeartbeat, map[string]any{"nodeId": s.cfg.Server.NodeID})
			metrics.HeartbeatsSentTotal.Inc()
		}
	}
}

// readLoop reads inbound frames until the connection errors or closes,
// decoding each into an Envelope and dispatching it on its own goroutine so
// a slow command (install, backup) never blocks the read side or other
// workloads' commands.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env types.Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
			s.logger.Warn().Err(jsonErr).Msg("failed to decode inbound frame")
			continue
		}
		go s.dispatch(ctx, env)
	}
}

// Emit serializes msgType and fields into one JSON object and writes it
// on the control channel's write half under a single mutex. If no channel
// is currently connected the message is dropped with a warning; reconnect
// catches up via state reconcile, not log/message replay.
func (s *Session) Emit(msgType string, fields map[string]any) {
	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = msgType
	msg["timestamp"] = time.Now().UnixMilli()

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msgType).Msg("failed to marshal outbound message")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		s.logger.Warn().Str("type", msgType).Msg("control channel absent, dropping outbound message")
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn().Err(err).Str("type", msgType).Msg("failed to write outbound message")
	}
}
