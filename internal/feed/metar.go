package feed

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/saviobatista/atc-online/internal/types"
)

type metarObservation struct {
	IcaoID  string `json:"icaoId"`
	RawOb   string `json:"rawOb"`
	ObsTime int64  `json:"obsTime"`
}

// MetarURL builds the aviationweather.gov query for stations
func MetarURL(base string, stations []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid METAR URL: %w", err)
	}

	q := u.Query()
	q.Set("ids", strings.Join(stations, ","))
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeMetars decodes an aviationweather.gov JSON METAR response.
// Observations without a station or raw text are skipped. When a station
// appears more than once the first (most recent) report wins.
func DecodeMetars(data []byte) ([]types.MetarReport, error) {
	var obs []metarObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("failed to decode METAR response: %w", err)
	}

	reports := make([]types.MetarReport, 0, len(obs))
	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		station := strings.ToUpper(strings.TrimSpace(o.IcaoID))
		raw := strings.TrimSpace(o.RawOb)
		if station == "" || raw == "" {
			continue
		}
		if _, ok := seen[station]; ok {
			continue
		}
		seen[station] = struct{}{}

		reports = append(reports, types.MetarReport{
			Station:   station,
			Raw:       raw,
			Timestamp: time.Unix(o.ObsTime, 0).UTC(),
		})
	}
	return reports, nil
}
