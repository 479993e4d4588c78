package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

type FrameType string

// Client frames
const (
	FrameJoinTrip  FrameType = "join-trip"
	FrameLeaveTrip FrameType = "leave-trip"
	FramePing      FrameType = "ping"
)

// Server frames
const (
	FrameConnected         FrameType = "connected"
	FrameSeatUpdate        FrameType = "seat-update"
	FrameRoomJoined        FrameType = "room-joined"
	FrameRoomLeft          FrameType = "room-left"
	FrameRoomLimitExceeded FrameType = "room-limit-exceeded"
	FrameConnectionBlocked FrameType = "connection-blocked"
	FramePong              FrameType = "pong"
	FrameError             FrameType = "error"
)

// Block reasons carried by connection-blocked.
const (
	BlockReasonConnectionLimit = "connection-limit"
	BlockReasonRateLimited     = "rate-limited"
	BlockReasonIdle            = "idle-timeout"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a server frame; payload may be nil.
func NewFrame(frameType FrameType, requestID string, payload any) (Frame, error) {
	frame := Frame{Type: frameType, RequestID: requestID}
	if payload == nil {
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s payload: %w", frameType, err)
	}
	frame.Payload = data
	return frame, nil
}

// TripRequest is the payload of join-trip and leave-trip.
type TripRequest struct {
	TripID string `json:"trip_id"`
}

// DecodeTripRequest validates a client frame that targets a single trip room.
func DecodeTripRequest(frame Frame) (TripRequest, error) {
	if frame.Type != FrameJoinTrip && frame.Type != FrameLeaveTrip {
		return TripRequest{}, fmt.Errorf("%w: unexpected frame type %q", ErrInvalidInput, frame.Type)
	}
	if len(frame.Payload) == 0 {
		return TripRequest{}, fmt.Errorf("%w: %s requires a payload", ErrInvalidInput, frame.Type)
	}

	var req TripRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return TripRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.TripID = strings.TrimSpace(req.TripID)
	if req.TripID == "" {
		return TripRequest{}, fmt.Errorf("%w: trip_id is required", ErrInvalidInput)
	}
	return req, nil
}

// SeatUpdate is the delta pushed to a trip room after every inventory mutation.
// Clients keep the highest Version they have seen and ignore older updates.
type SeatUpdate struct {
	TripID    string `json:"trip_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
	Booked    int    `json:"booked"`
	Version   int64  `json:"version"`
}

func (u SeatUpdate) Validate() error {
	if strings.TrimSpace(u.TripID) == "" {
		return fmt.Errorf("%w: seat update without trip_id", ErrInvalidInput)
	}
	if u.Version <= 0 {
		return fmt.Errorf("%w: seat update for %s has no version", ErrInvalidInput, u.TripID)
	}
	if u.Available < 0 || u.Held < 0 || u.Booked < 0 {
		return fmt.Errorf("%w: seat update for %s has negative counters", ErrInvalidInput, u.TripID)
	}
	return nil
}

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	IdentityID   string `json:"identity_id"`
	Anonymous    bool   `json:"anonymous"`
}

type RoomJoinedPayload struct {
	TripID             string `json:"trip_id"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds,omitempty"`
}

type RoomLimitExceededPayload struct {
	TripID string `json:"trip_id"`
	Limit  int    `json:"limit"`
}

type ConnectionBlockedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
