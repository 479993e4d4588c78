package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/internal/fanout"
	"github.com/ds124wfegd/tripseats/internal/governor"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFramePayloadBytes   = 4 << 10
)

// WSHandler serves the real-time seat stream. Every connection passes the governor first.
type WSHandler struct {
	gov      *governor.Governor
	fanout   *fanout.Service
	outbound int
}

func NewWSHandler(gov *governor.Governor, fanoutService *fanout.Service, outbound int) *WSHandler {
	if outbound <= 0 {
		outbound = 64
	}
	return &WSHandler{gov: gov, fanout: fanoutService, outbound: outbound}
}

func (h *WSHandler) Serve(c *gin.Context) {
	token := tokenFromRequest(c.Request)
	origin := c.ClientIP()

	server := websocket.Server{
		// origin policy is enforced by CORS, non-browser clients send no Origin
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.handleConn(conn, token, origin)
		},
	}
	server.ServeHTTP(c.Writer, c.Request)
}

// tokenFromRequest reads the token from the query (browsers cannot set headers on
// websocket upgrades) or from the Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return r.Header.Get("Authorization")
}

func (h *WSHandler) handleConn(ws *websocket.Conn, token, origin string) {
	defer func() {
		_ = ws.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	encoder := json.NewEncoder(ws)
	conn, _, err := h.gov.Admit(ctx, token, origin)
	if err != nil {
		_ = writeBlocked(encoder, err)
		return
	}

	peer := newWSPeer(conn.ID, encoder, h.outbound)
	go peer.writeLoop()
	defer func() {
		for _, tripID := range conn.Close() {
			h.fanout.Unsubscribe(peer, tripID)
		}
		peer.stop()
	}()

	peer.control(mustFrame(entity.FrameConnected, "", entity.ConnectedPayload{
		ConnectionID: conn.ID,
		IdentityID:   conn.Identity.ID,
		Anonymous:    conn.Identity.Anonymous,
	}))

	idle := h.gov.IdleTimeout()
	decoder := json.NewDecoder(ws)
	decodeErrors := 0

	for {
		if idle > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(idle))
		}

		var frame entity.Frame
		if err := decoder.Decode(&frame); err != nil {
			if isTimeout(err) {
				peer.stop()
				_ = peer.writeFrame(mustFrame(entity.FrameConnectionBlocked, "", entity.ConnectionBlockedPayload{
					Reason:  entity.BlockReasonIdle,
					Message: "connection closed after inactivity",
				}))
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			decodeErrors++
			peer.control(errorFrame("", "invalid-frame", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			peer.control(errorFrame(frame.RequestID, "invalid-frame", "payload too large"))
			continue
		}

		switch frame.Type {
		case entity.FrameJoinTrip:
			h.handleJoin(ctx, conn, peer, frame)
		case entity.FrameLeaveTrip:
			h.handleLeave(conn, peer, frame)
		case entity.FramePing:
			peer.control(mustFrame(entity.FramePong, frame.RequestID, nil))
		default:
			peer.control(errorFrame(frame.RequestID, "unsupported-frame", "unsupported frame type"))
		}
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, conn *governor.Connection, peer *wsPeer, frame entity.Frame) {
	req, err := entity.DecodeTripRequest(frame)
	if err != nil {
		peer.control(errorFrame(frame.RequestID, "invalid-input", err.Error()))
		return
	}

	if err := conn.Join(req.TripID); err != nil {
		if errors.Is(err, entity.ErrRoomLimitExceeded) {
			peer.control(mustFrame(entity.FrameRoomLimitExceeded, frame.RequestID, entity.RoomLimitExceededPayload{
				TripID: req.TripID,
				Limit:  h.gov.MaxRooms(),
			}))
			return
		}
		peer.control(errorFrame(frame.RequestID, "join-failed", err.Error()))
		return
	}

	announce := func() {
		peer.control(mustFrame(entity.FrameRoomJoined, frame.RequestID, entity.RoomJoinedPayload{
			TripID:             req.TripID,
			IdleTimeoutSeconds: int(h.gov.IdleTimeout().Seconds()),
		}))
	}
	if _, err := h.fanout.Subscribe(ctx, peer, req.TripID, announce); err != nil {
		conn.Leave(req.TripID)
		_, code := statusFor(err)
		peer.control(errorFrame(frame.RequestID, code, err.Error()))
	}
}

func (h *WSHandler) handleLeave(conn *governor.Connection, peer *wsPeer, frame entity.Frame) {
	req, err := entity.DecodeTripRequest(frame)
	if err != nil {
		peer.control(errorFrame(frame.RequestID, "invalid-input", err.Error()))
		return
	}

	if conn.Leave(req.TripID) {
		h.fanout.Unsubscribe(peer, req.TripID)
	}
	peer.control(mustFrame(entity.FrameRoomLeft, frame.RequestID, entity.TripRequest{TripID: req.TripID}))
}

func writeBlocked(encoder *json.Encoder, err error) error {
	reason := entity.BlockReasonConnectionLimit
	if errors.Is(err, entity.ErrRateLimited) {
		reason = entity.BlockReasonRateLimited
	}
	return encoder.Encode(mustFrame(entity.FrameConnectionBlocked, "", entity.ConnectionBlockedPayload{
		Reason:  reason,
		Message: err.Error(),
	}))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorFrame(requestID, code, message string) entity.Frame {
	return mustFrame(entity.FrameError, requestID, entity.ErrorPayload{Code: code, Message: message})
}

func mustFrame(frameType entity.FrameType, requestID string, payload any) entity.Frame {
	frame, err := entity.NewFrame(frameType, requestID, payload)
	if err != nil {
		logrus.WithError(err).Error("Failed to build websocket frame")
		return entity.Frame{Type: entity.FrameError, RequestID: requestID}
	}
	return frame
}

// wsPeer owns the write side of a connection. Seat updates never block the caller:
// a full outbound queue drops them.
type wsPeer struct {
	id  string
	out chan entity.Frame

	mu      sync.Mutex
	encoder *json.Encoder

	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

func newWSPeer(id string, encoder *json.Encoder, buffer int) *wsPeer {
	return &wsPeer{
		id:       id,
		out:      make(chan entity.Frame, buffer),
		encoder:  encoder,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func (p *wsPeer) ID() string { return p.id }

// Deliver implements fanout.Subscriber.
func (p *wsPeer) Deliver(update entity.SeatUpdate) bool {
	frame := mustFrame(entity.FrameSeatUpdate, "", update)
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- frame:
		return true
	default:
		return false
	}
}

// control queues a reply frame, waiting for room unless the peer is stopped.
func (p *wsPeer) control(frame entity.Frame) {
	select {
	case p.out <- frame:
	case <-p.done:
	}
}

func (p *wsPeer) writeFrame(frame entity.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) writeLoop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.out:
			if err := p.writeFrame(frame); err != nil {
				p.stopOnce.Do(func() { close(p.done) })
				return
			}
		}
	}
}

// stop ends the write loop and waits for it to exit.
func (p *wsPeer) stop() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.loopDone
}
