package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/saviobatista/atc-online/internal/facility"
	"github.com/saviobatista/atc-online/internal/types"
)

var (
	ratingsShort = []string{"Unknown", "OBS", "S1", "S2", "S3", "C1", "C2", "C3", "I1", "I2", "I3", "SUP", "ADM"}
	ratingsLong  = []string{
		"Unknown", "Observer", "Student", "Student 2", "Senior Student", "Controller", "Controller 2",
		"Senior Controller", "Instructor", "Instructor 2", "Senior Instructor", "Supervisor", "Administrator",
	}
)

type dataFeed struct {
	General struct {
		UpdateTimestamp time.Time `json:"update_timestamp"`
	} `json:"general"`
	Pilots      []feedPilot      `json:"pilots"`
	Controllers []feedController `json:"controllers"`
	Atis        []feedAtis       `json:"atis"`
}

type feedPilot struct {
	CID         int         `json:"cid"`
	Name        string      `json:"name"`
	Callsign    string      `json:"callsign"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Altitude    int         `json:"altitude"`
	Groundspeed int         `json:"groundspeed"`
	Heading     int         `json:"heading"`
	Transponder string      `json:"transponder"`
	FlightPlan  *flightPlan `json:"flight_plan"`
}

type flightPlan struct {
	Aircraft    string `json:"aircraft"`
	AircraftFAA string `json:"aircraft_faa"`
	Departure   string `json:"departure"`
	Arrival     string `json:"arrival"`
	Altitude    string `json:"altitude"`
	Route       string `json:"route"`
	Remarks     string `json:"remarks"`
}

type feedController struct {
	CID       int       `json:"cid"`
	Name      string    `json:"name"`
	Callsign  string    `json:"callsign"`
	Frequency string    `json:"frequency"`
	Rating    int       `json:"rating"`
	LogonTime time.Time `json:"logon_time"`
}

type feedAtis struct {
	Callsign string  `json:"callsign"`
	AtisCode *string `json:"atis_code"`
}

// RatingShort returns the short name of a controller rating
func RatingShort(rating int) string {
	if rating < 0 || rating >= len(ratingsShort) {
		return ratingsShort[0]
	}
	return ratingsShort[rating]
}

// RatingLong returns the long name of a controller rating
func RatingLong(rating int) string {
	if rating < 0 || rating >= len(ratingsLong) {
		return ratingsLong[0]
	}
	return ratingsLong[rating]
}

// Normalize decodes a network data feed and keeps what concerns the
// facility: pilots departing or arriving at one of its airports (every pilot
// when the table lists no airports), controllers on its positions and ATIS
// stations at its airports.
func Normalize(data []byte, table *facility.Table) (*types.FeedSnapshot, error) {
	var raw dataFeed
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode data feed: %w", err)
	}

	snap := &types.FeedSnapshot{
		Timestamp:   raw.General.UpdateTimestamp.UTC(),
		Pilots:      []types.PilotRecord{},
		Controllers: []types.ControllerPosition{},
		Atis:        []types.NetworkAtis{},
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	allAirports := len(table.Airports()) == 0

	for _, p := range raw.Pilots {
		if p.Callsign == "" {
			continue
		}
		fp := p.FlightPlan
		if fp == nil {
			if !allAirports {
				continue
			}
			fp = &flightPlan{}
		}
		if !allAirports && !table.HasAirport(fp.Departure) && !table.HasAirport(fp.Arrival) {
			continue
		}

		aircraft := fp.AircraftFAA
		if aircraft == "" {
			aircraft = fp.Aircraft
		}

		snap.Pilots = append(snap.Pilots, types.PilotRecord{
			CID:           p.CID,
			Name:          p.Name,
			Callsign:      p.Callsign,
			Aircraft:      aircraft,
			Dep:           fp.Departure,
			Dest:          fp.Arrival,
			Code:          p.Transponder,
			Lat:           p.Latitude,
			Lng:           p.Longitude,
			Altitude:      p.Altitude,
			Heading:       p.Heading,
			Speed:         p.Groundspeed,
			PlannedCruise: fp.Altitude,
			Route:         fp.Route,
			Remarks:       fp.Remarks,
		})
	}

	for _, c := range raw.Controllers {
		callsign := strings.ToUpper(c.Callsign)
		if strings.HasSuffix(callsign, "_ATIS") {
			continue
		}
		position, ok := table.PositionFor(callsign)
		if !ok {
			continue
		}

		snap.Controllers = append(snap.Controllers, types.ControllerPosition{
			CID:         c.CID,
			Name:        c.Name,
			Callsign:    c.Callsign,
			Position:    position,
			Frequency:   c.Frequency,
			Rating:      c.Rating,
			RatingShort: RatingShort(c.Rating),
			RatingLong:  RatingLong(c.Rating),
			LogonTime:   c.LogonTime.UTC(),
		})
	}

	for _, a := range raw.Atis {
		callsign := strings.ToUpper(a.Callsign)
		station, _, _ := strings.Cut(callsign, "_")
		if station == "" || (!allAirports && !table.HasAirport(station)) {
			continue
		}

		letter := ""
		if a.AtisCode != nil {
			letter = strings.ToUpper(*a.AtisCode)
		}
		snap.Atis = append(snap.Atis, types.NetworkAtis{
			Station:  station,
			Callsign: callsign,
			Letter:   letter,
		})
	}

	return snap, nil
}
