package relay

import (
	"context"

	"github.com/saviobatista/atc-online/internal/types"
)

// MessageType tags every message pushed to a client
type MessageType string

const (
	TypeUpdate MessageType = "update"
	TypeDelete MessageType = "delete"
)

// Message is one push to a client stream
type Message interface {
	MessageType() MessageType
}

// PilotUpdate carries the current pilot record, flattened next to its tag
type PilotUpdate struct {
	Type MessageType `json:"type"`
	types.PilotRecord
}

// PilotDelete announces a pilot leaving the network
type PilotDelete struct {
	Type     MessageType `json:"type"`
	Callsign string      `json:"callsign"`
}

// AtisUpdate carries the current ATIS record, flattened next to its tag
type AtisUpdate struct {
	Type MessageType `json:"type"`
	types.AtisRecord
}

// AtisDelete announces an ATIS going offline
type AtisDelete struct {
	Type    MessageType `json:"type"`
	Station string      `json:"station"`
}

func NewPilotUpdate(rec types.PilotRecord) PilotUpdate {
	return PilotUpdate{Type: TypeUpdate, PilotRecord: rec}
}

func NewPilotDelete(callsign string) PilotDelete {
	return PilotDelete{Type: TypeDelete, Callsign: callsign}
}

func NewAtisUpdate(rec types.AtisRecord) AtisUpdate {
	return AtisUpdate{Type: TypeUpdate, AtisRecord: rec}
}

func NewAtisDelete(station string) AtisDelete {
	return AtisDelete{Type: TypeDelete, Station: station}
}

func (PilotUpdate) MessageType() MessageType { return TypeUpdate }
func (PilotDelete) MessageType() MessageType { return TypeDelete }
func (AtisUpdate) MessageType() MessageType  { return TypeUpdate }
func (AtisDelete) MessageType() MessageType  { return TypeDelete }

// Feed binds a pair of update/delete channels to the record they announce
type Feed struct {
	Name          string
	UpdateChannel string
	DeleteChannel string

	update func(ctx context.Context, store RecordStore, id string) (Message, error)
	remove func(id string) Message
}

// Channels returns the channels a stream of this feed subscribes to
func (f Feed) Channels() []string {
	return []string{f.UpdateChannel, f.DeleteChannel}
}

// PilotFeed streams pilot position updates and disconnects
var PilotFeed = Feed{
	Name:          "pilots",
	UpdateChannel: types.ChannelPilotUpdate,
	DeleteChannel: types.ChannelPilotDelete,
	update: func(ctx context.Context, store RecordStore, callsign string) (Message, error) {
		rec, err := store.GetPilot(ctx, callsign)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrRecordNotFound
		}
		return NewPilotUpdate(*rec), nil
	},
	remove: func(callsign string) Message { return NewPilotDelete(callsign) },
}

// AtisFeed streams ATIS broadcasts and their removal
var AtisFeed = Feed{
	Name:          "atis",
	UpdateChannel: types.ChannelAtisUpdate,
	DeleteChannel: types.ChannelAtisDelete,
	update: func(ctx context.Context, store RecordStore, station string) (Message, error) {
		rec, err := store.GetAtis(ctx, station)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrRecordNotFound
		}
		return NewAtisUpdate(*rec), nil
	},
	remove: func(station string) Message { return NewAtisDelete(station) },
}
