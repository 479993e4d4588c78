package governor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/pkg/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Authenticator verifies a bearer token.
type Authenticator interface {
	Verify(ctx context.Context, token string) (entity.Identity, error)
}

type Config struct {
	MaxConnectionsPerIdentity int
	MaxAttempts               int
	AttemptWindow             time.Duration
	MaxRoomsPerConnection     int
	IdleTimeout               time.Duration
}

// Governor decides who may hold a real-time connection and how much it may use.
// One Governor exists per process; its registry only changes on Admit and Close.
type Governor struct {
	auth    Authenticator
	clock   clock.Clock
	cfg     Config
	limiter *SlidingWindow

	mu         sync.Mutex
	byIdentity map[string]map[string]*Connection
	total      int
	blocked    int64
}

func New(auth Authenticator, clk clock.Clock, cfg Config) *Governor {
	return &Governor{
		auth:       auth,
		clock:      clk,
		cfg:        cfg,
		limiter:    NewSlidingWindow(cfg.MaxAttempts, cfg.AttemptWindow),
		byIdentity: make(map[string]map[string]*Connection),
	}
}

func (g *Governor) IdleTimeout() time.Duration {
	return g.cfg.IdleTimeout
}

func (g *Governor) MaxRooms() int {
	return g.cfg.MaxRoomsPerConnection
}

// ResolveIdentity never fails: a missing or unusable token yields a fresh anonymous identity.
func (g *Governor) ResolveIdentity(ctx context.Context, token string) entity.Identity {
	token = NormalizeToken(token)
	if token == "" || g.auth == nil {
		return entity.NewAnonymousIdentity()
	}

	identity, err := g.auth.Verify(ctx, token)
	if err != nil || identity.ID == "" {
		logrus.WithError(err).Debug("Token rejected, continuing as anonymous")
		return entity.NewAnonymousIdentity()
	}
	return identity
}

// NormalizeToken strips a Bearer prefix and maps placeholder values sent by
// browser clients ("null", "undefined") to no token.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	switch strings.ToLower(token) {
	case "", "null", "undefined":
		return ""
	}
	return token
}

// Admit resolves the identity behind token and registers a connection for it.
// origin is the client address; it keys the rate limit of anonymous clients.
// The identity is returned even when admission is refused.
func (g *Governor) Admit(ctx context.Context, token, origin string) (*Connection, entity.Identity, error) {
	identity := g.ResolveIdentity(ctx, token)
	now := g.clock.Now()

	if !g.limiter.Allow(rateKey(identity, origin), now) {
		g.block(identity, origin, entity.ErrRateLimited)
		return nil, identity, entity.ErrRateLimited
	}

	g.mu.Lock()
	conns := g.byIdentity[identity.ID]
	if g.cfg.MaxConnectionsPerIdentity > 0 && len(conns) >= g.cfg.MaxConnectionsPerIdentity {
		g.mu.Unlock()
		g.block(identity, origin, entity.ErrConnectionLimitExceeded)
		return nil, identity, entity.ErrConnectionLimitExceeded
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		Identity:    identity,
		Origin:      origin,
		ConnectedAt: now,
		gov:         g,
		rooms:       make(map[string]struct{}),
	}
	if conns == nil {
		conns = make(map[string]*Connection)
		g.byIdentity[identity.ID] = conns
	}
	conns[conn.ID] = conn
	g.total++
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"identity":      identity.ID,
		"anonymous":     identity.Anonymous,
	}).Info("Connection admitted")
	return conn, identity, nil
}

func (g *Governor) block(identity entity.Identity, origin string, reason error) {
	g.mu.Lock()
	g.blocked++
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"identity": identity.ID,
		"origin":   origin,
	}).WithError(reason).Warn("Connection blocked")
}

func (g *Governor) release(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns := g.byIdentity[conn.Identity.ID]
	if _, ok := conns[conn.ID]; !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(g.byIdentity, conn.Identity.ID)
	}
	g.total--
}

// Active returns the number of open connections of an identity.
func (g *Governor) Active(identityID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byIdentity[identityID])
}

type Stats struct {
	Connections int   `json:"connections"`
	Identities  int   `json:"identities"`
	Blocked     int64 `json:"blocked"`
}

func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Connections: g.total, Identities: len(g.byIdentity), Blocked: g.blocked}
}

// Prune drops rate limit state that fell out of the window.
func (g *Governor) Prune() {
	g.limiter.Prune(g.clock.Now())
}

func rateKey(identity entity.Identity, origin string) string {
	if identity.Anonymous {
		return "ip:" + origin
	}
	return "user:" + identity.ID
}

// Connection is one admitted real-time connection.
type Connection struct {
	ID          string
	Identity    entity.Identity
	Origin      string
	ConnectedAt time.Time

	gov       *Governor
	mu        sync.Mutex
	rooms     map[string]struct{}
	closeOnce sync.Once
	closed    bool
}

// Join records membership in a trip room. Joining a room twice is a no-op.
func (c *Connection) Join(tripID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return entity.ErrForbidden
	}
	if _, ok := c.rooms[tripID]; ok {
		return nil
	}
	if limit := c.gov.cfg.MaxRoomsPerConnection; limit > 0 && len(c.rooms) >= limit {
		return entity.ErrRoomLimitExceeded
	}
	c.rooms[tripID] = struct{}{}
	return nil
}

// Leave reports whether the connection was in the room.
func (c *Connection) Leave(tripID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[tripID]; !ok {
		return false
	}
	delete(c.rooms, tripID)
	return true
}

func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Connection) roomsLocked() []string {
	rooms := make([]string, 0, len(c.rooms))
	for tripID := range c.rooms {
		rooms = append(rooms, tripID)
	}
	sort.Strings(rooms)
	return rooms
}

// Close releases the connection slot exactly once and returns the rooms it was in.
func (c *Connection) Close() []string {
	var rooms []string
	c.closeOnce.Do(func() {
		c.mu.Lock()
		rooms = c.roomsLocked()
		c.rooms = make(map[string]struct{})
		c.closed = true
		c.mu.Unlock()

		c.gov.release(c)
		logrus.WithFields(logrus.Fields{
			"connection_id": c.ID,
			"identity":      c.Identity.ID,
			"duration":      c.gov.clock.Now().Sub(c.ConnectedAt).String(),
		}).Info("Connection closed")
	})
	return rooms
}
