// Package gateway implements the session relay: it maps each browser session
// to exactly one backend connection, drives the connect → check-in →
// authenticate → stream lifecycle, and relays packets as browser events.
package gateway

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/theman001/KakaoWebTalk/internal/backend"
	"github.com/theman001/KakaoWebTalk/internal/loco"
	"github.com/theman001/KakaoWebTalk/internal/metrics"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

const defaultHandshakeTimeout = 15 * time.Second

// ClientProfile is the device identity the gateway presents at check-in.
type ClientProfile struct {
	AppVersion string
	OS         string
	Language   string
	CountryISO string
	NetType    int32
}

// Options configures a Gateway.
type Options struct {
	BackendAddr string
	TLSConfig   *tls.Config      // backend certificate trust policy
	Dial        backend.DialFunc // test seam; nil means real TLS dial

	Client           ClientProfile
	HandshakeTimeout time.Duration // bound on each handshake round-trip

	Store    Store
	Identity Identity
	Metrics  *metrics.Metrics
}

// Gateway owns the registry of live browser sessions. All registry mutation
// goes through bind/evict/remove under one mutex; no lock is held across a
// network or store call.
type Gateway struct {
	opts Options
	ctx  context.Context

	mu       sync.Mutex
	sessions map[string]*session // browser client id → bound session
}

// session is one authenticated browser-to-backend binding.
type session struct {
	clientID  string // browser connection identity (registry key)
	sessionID string // opaque token held by the browser
	userID    int64
	conn      *backend.Conn
	emitter   Emitter
}

// New creates a Gateway. The context bounds every backend connection it opens.
func New(ctx context.Context, opts Options) *Gateway {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Gateway{
		opts:     opts,
		ctx:      ctx,
		sessions: make(map[string]*session),
	}
}

// RestoreSession resumes a previously authenticated session. An unknown
// sessionID yields authRequired without opening any backend connection.
func (g *Gateway) RestoreSession(ctx context.Context, clientID, sessionID string, em Emitter) {
	rec, err := g.opts.Store.RestoreSession(sessionID)
	if err != nil {
		util.LogWarning("session store lookup failed: %v", err)
		g.opts.Metrics.StoreError()
	}
	if rec == nil {
		em.Emit(authRequired())
		return
	}

	g.establish(ctx, clientID, sessionID, *rec, "restore", em)
}

// Login exchanges credentials via the identity collaborator, persists a new
// session, and binds a backend connection for it. Identity failure emits
// authFailed without touching the registry or the store.
func (g *Gateway) Login(ctx context.Context, clientID, email, password string, em Emitter) {
	creds, err := g.opts.Identity.Login(ctx, email, password)
	if err != nil {
		util.LogWarning("identity login failed for %s: %v", email, err)
		g.opts.Metrics.AuthFailure(metrics.ReasonIdentityRejected)
		em.Emit(authFailed(err.Error()))
		return
	}

	sessionID := newSessionToken()
	rec := SessionRecord{
		UserID:    creds.UserID,
		AuthToken: creds.AuthToken,
		DeviceID:  creds.DeviceID,
	}

	if err := g.opts.Store.SaveSession(sessionID, rec); err != nil {
		// Degrade to in-memory operation: the session works until restart,
		// it just cannot be restored.
		util.LogWarning("session store save failed: %v", err)
		g.opts.Metrics.StoreError()
	}

	g.establish(ctx, clientID, sessionID, rec, "login", em)
}

// SendMessage relays a chat message over the caller's authenticated backend
// connection. Fire-and-forget: delivery confirmation, if any, arrives later
// as an inbound packet.
func (g *Gateway) SendMessage(clientID string, chatID int64, text string, em Emitter) {
	g.mu.Lock()
	s := g.sessions[clientID]
	g.mu.Unlock()

	if s == nil || s.conn.State() != backend.StateAuthenticated {
		em.Emit(chatError("not connected"))
		return
	}

	body := loco.Document{"chatId": chatID, "msg": text, "type": int32(1)}
	if err := s.conn.Send(loco.MethodWrite, body); err != nil {
		util.LogWarning("send to backend failed: %v", err)
		em.Emit(chatError("backend write failed"))
		return
	}
	g.opts.Metrics.PacketOut()
}

// HandleDisconnect tears down the caller's session: registry entry removed,
// backend connection closed. Safe to call when nothing was ever bound.
func (g *Gateway) HandleDisconnect(clientID string) {
	g.remove(clientID, nil)
}

// SessionCount reports the number of live bound sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// establish runs the full connect → check-in → authenticate → bind sequence.
// Any failure closes the half-open connection and emits authFailed; it never
// leaves a half-bound registry entry.
func (g *Gateway) establish(ctx context.Context, clientID, sessionID string, rec SessionRecord, origin string, em Emitter) {
	conn := backend.New(g.ctx, backend.Options{
		Addr:      g.opts.BackendAddr,
		TLSConfig: g.opts.TLSConfig,
		Dial:      g.opts.Dial,
	})

	if err := conn.Connect(ctx); err != nil {
		util.LogWarning("backend connect failed: %v", err)
		g.opts.Metrics.AuthFailure(metrics.ReasonConnectFailed)
		em.Emit(authFailed("backend unreachable"))
		return
	}

	if err := g.handshake(ctx, conn, rec); err != nil {
		conn.Close()
		util.LogWarning("backend handshake failed: %v", err)
		g.opts.Metrics.AuthFailure(handshakeReason(err))
		em.Emit(authFailed(err.Error()))
		return
	}

	s := &session{
		clientID:  clientID,
		sessionID: sessionID,
		userID:    rec.UserID,
		conn:      conn,
		emitter:   em,
	}
	g.bind(s, origin)

	em.Emit(authSuccess(sessionID, rec.UserID))
}

// Handshake errors, distinguished for metrics.
var (
	errLoginRejected    = errors.New("backend rejected login")
	errHandshakeTimeout = errors.New("backend handshake timed out")
)

// handshake registers the client (CHECKIN) and authenticates (LOGINLIST).
// Both round-trips are bounded by the configured handshake timeout. The
// handshake reads from the same inbound channel the dispatch loop later
// consumes, so packet order is preserved across the transition.
func (g *Gateway) handshake(ctx context.Context, conn *backend.Conn, rec SessionRecord) error {
	p := g.opts.Client
	checkin := loco.Document{
		"userId":     rec.UserID,
		"os":         p.OS,
		"netType":    p.NetType,
		"appVer":     p.AppVersion,
		"lang":       p.Language,
		"countryIso": p.CountryISO,
	}
	if err := conn.Send(loco.MethodCheckin, checkin); err != nil {
		return err
	}
	g.opts.Metrics.PacketOut()
	if _, err := g.await(ctx, conn); err != nil {
		return errors.Wrap(err, "check-in")
	}
	conn.Advance(backend.StateCheckedIn)

	login := loco.Document{
		"authToken":  rec.AuthToken,
		"deviceUuid": rec.DeviceID,
		"revision":   rec.Revision,
	}
	if err := conn.Send(loco.MethodLogin, login); err != nil {
		return err
	}
	g.opts.Metrics.PacketOut()
	resp, err := g.await(ctx, conn)
	if err != nil {
		return errors.Wrap(err, "login")
	}
	if resp.Status != 0 {
		return errors.Wrapf(errLoginRejected, "status %d", resp.Status)
	}
	conn.Advance(backend.StateAuthenticated)

	return nil
}

// await blocks for the next inbound packet during the handshake phase.
func (g *Gateway) await(ctx context.Context, conn *backend.Conn) (*loco.Packet, error) {
	timer := time.NewTimer(g.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case pkt, ok := <-conn.Packets():
		if !ok {
			if err := conn.Err(); err != nil {
				return nil, err
			}
			return nil, ErrClosedDuringHandshake
		}
		g.opts.Metrics.PacketIn()
		return pkt, nil
	case <-timer.C:
		return nil, errHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrClosedDuringHandshake reports a backend connection that dropped before
// answering the handshake.
var ErrClosedDuringHandshake = errors.New("backend closed during handshake")

func handshakeReason(err error) string {
	switch {
	case errors.Is(err, errLoginRejected):
		return metrics.ReasonLoginRejected
	case errors.Is(err, errHandshakeTimeout):
		return metrics.ReasonHandshakeTimeout
	default:
		return metrics.ReasonCheckinFailed
	}
}

// bind installs a session into the registry, enforcing the exclusivity
// invariant: at most one live backend connection per browser identity and
// per sessionID. A displaced connection is closed before the new one lands.
func (g *Gateway) bind(s *session, origin string) {
	var evicted []*session

	g.mu.Lock()
	if old, ok := g.sessions[s.clientID]; ok {
		evicted = append(evicted, old)
		delete(g.sessions, s.clientID)
	}
	for id, other := range g.sessions {
		if other.sessionID == s.sessionID {
			evicted = append(evicted, other)
			delete(g.sessions, id)
		}
	}
	g.sessions[s.clientID] = s
	g.mu.Unlock()

	for _, old := range evicted {
		util.LogDebug("evicting stale connection for session %s", old.sessionID)
		old.conn.Close()
		util.Stats.RemoveSession()
		g.opts.Metrics.SessionUnbound()
	}

	util.Stats.AddSession()
	g.opts.Metrics.SessionBound(origin)

	go g.dispatch(s)
}

// remove unbinds a registry entry and closes its connection. When expect is
// non-nil the entry is removed only if it still refers to that session,
// which keeps a replaced session's late cleanup from touching its successor.
// Returns true when this call actually performed the removal.
func (g *Gateway) remove(clientID string, expect *session) bool {
	g.mu.Lock()
	cur, ok := g.sessions[clientID]
	if !ok || (expect != nil && cur != expect) {
		g.mu.Unlock()
		return false
	}
	delete(g.sessions, clientID)
	g.mu.Unlock()

	cur.conn.Close()
	util.Stats.RemoveSession()
	g.opts.Metrics.SessionUnbound()
	return true
}

// newSessionToken generates the opaque session identity handed to browsers:
// 20 random bytes, hex-encoded.
func newSessionToken() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}
