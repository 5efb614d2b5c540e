package types

import (
	"time"
)

// Pub/sub channels carrying change notifications. The payload is the
// callsign (pilot channels) or the station code (ATIS channels).
const (
	ChannelPilotUpdate = "PILOT:UPDATE"
	ChannelPilotDelete = "PILOT:DELETE"
	ChannelAtisUpdate  = "ATIS:UPDATE"
	ChannelAtisDelete  = "ATIS:DELETE"
)

// PilotRecord represents the latest reported state of an online pilot
type PilotRecord struct {
	CID           int     `json:"cid" redis:"cid"`
	Name          string  `json:"name" redis:"name"`
	Callsign      string  `json:"callsign" redis:"callsign"`
	Aircraft      string  `json:"aircraft" redis:"aircraft"`
	Dep           string  `json:"dep" redis:"dep"`
	Dest          string  `json:"dest" redis:"dest"`
	Code          string  `json:"code" redis:"code"`
	Lat           float64 `json:"lat" redis:"lat"`
	Lng           float64 `json:"lng" redis:"lng"`
	Altitude      int     `json:"altitude" redis:"altitude"`
	Heading       int     `json:"heading" redis:"heading"`
	Speed         int     `json:"speed" redis:"speed"`
	PlannedCruise string  `json:"planned_cruise" redis:"planned_cruise"`
	Route         string  `json:"route" redis:"route"`
	Remarks       string  `json:"remarks" redis:"remarks"`
}

// AtisRecord represents the current runway configuration broadcast by a station
type AtisRecord struct {
	Station string `json:"station" redis:"station"`
	Letter  string `json:"letter" redis:"letter"`
	Dep     string `json:"dep" redis:"dep"`
	Arr     string `json:"arr" redis:"arr"`
}

// StationBundle combines weather and ATIS for a single station. Each field
// is nil when the corresponding record is absent.
type StationBundle struct {
	Metar  *string `json:"metar"`
	Dep    *string `json:"dep"`
	Arr    *string `json:"arr"`
	Letter *string `json:"letter"`
}

// ControllerPosition represents a controller logged on to a facility position
type ControllerPosition struct {
	CID         int       `json:"cid"`
	Name        string    `json:"name"`
	Callsign    string    `json:"callsign"`
	Position    string    `json:"pos"`
	Frequency   string    `json:"frequency"`
	Rating      int       `json:"rating"`
	RatingShort string    `json:"ratingShort"`
	RatingLong  string    `json:"ratingLong"`
	LogonTime   time.Time `json:"timeStart"`
}

// NetworkAtis represents an ATIS connection seen on the network feed
type NetworkAtis struct {
	Station  string `json:"station"`
	Callsign string `json:"callsign"`
	Letter   string `json:"letter"`
}

// FeedSnapshot is one facility-filtered reading of the network data feed
type FeedSnapshot struct {
	Timestamp   time.Time            `json:"timestamp"`
	Pilots      []PilotRecord        `json:"pilots"`
	Controllers []ControllerPosition `json:"controllers"`
	Atis        []NetworkAtis        `json:"atis"`
}

// MetarReport represents a raw METAR observation for a station
type MetarReport struct {
	Station   string    `json:"station"`
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is a single message received on a pub/sub channel
type Notification struct {
	Channel string
	Payload string
}

// ControllerSession represents a controller's time on a facility position
type ControllerSession struct {
	SessionID string     `json:"session_id"`
	CID       int        `json:"cid"`
	Name      string     `json:"name"`
	Callsign  string     `json:"callsign"`
	Position  string     `json:"position"`
	Rating    int        `json:"rating"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Online is the combined list of facility pilots and controllers
type Online struct {
	Pilots []PilotRecord        `json:"pilots"`
	Atc    []ControllerPosition `json:"atc"`
}

// FeedStats is a point-in-time copy of the tracker counters
type FeedStats struct {
	Snapshots         uint64
	FailedSnapshots   uint64
	PilotUpdates      uint64
	PilotDeletes      uint64
	AtisDeletes       uint64
	MetarUpdates      uint64
	SessionsOpened    uint64
	SessionsClosed    uint64
	ActivePilots      uint64
	ActiveControllers uint64
	StaffedPositions  []string
	LastSnapshotTime  time.Time
	ProcessingTime    time.Duration
	Uptime            time.Duration
}
