package relay

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/saviobatista/atc-online/internal/types"
)

func TestMessages_JSON(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "atis update is flattened",
			msg:  NewAtisUpdate(types.AtisRecord{Station: "KPHX", Letter: "C", Dep: "25R", Arr: "ILS 26"}),
			want: `{"type":"update","station":"KPHX","letter":"C","dep":"25R","arr":"ILS 26"}`,
		},
		{
			name: "pilot delete",
			msg:  NewPilotDelete("N123AB"),
			want: `{"type":"delete","callsign":"N123AB"}`,
		},
		{
			name: "atis delete",
			msg:  NewAtisDelete("KABQ"),
			want: `{"type":"delete","station":"KABQ"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestPilotUpdate_CarriesAllFields(t *testing.T) {
	rec := types.PilotRecord{Callsign: "N123AB", CID: 42, Lat: 33.5, Speed: 110}
	data, err := json.Marshal(NewPilotUpdate(rec))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if len(m) != 16 {
		t.Errorf("Expected type plus 15 record fields, got %d: %v", len(m), m)
	}
	if m["type"] != "update" || m["callsign"] != "N123AB" || m["cid"] != float64(42) {
		t.Errorf("Unexpected message %v", m)
	}
}

func TestFeed_Channels(t *testing.T) {
	if got := PilotFeed.Channels(); got[0] != types.ChannelPilotUpdate || got[1] != types.ChannelPilotDelete {
		t.Errorf("Unexpected pilot channels %v", got)
	}
	if got := AtisFeed.Channels(); got[0] != types.ChannelAtisUpdate || got[1] != types.ChannelAtisDelete {
		t.Errorf("Unexpected ATIS channels %v", got)
	}
}
