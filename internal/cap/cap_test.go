package cap

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/google/uuid"
)

func testEvent(mt models.BroadcastMessageType, sentAt time.Time) models.BroadcastEvent {
	finishes := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	return models.BroadcastEvent{
		ID:                 uuid.New(),
		BroadcastMessageID: uuid.New(),
		MessageType:        mt,
		TransmittedContent: models.TransmittedContent{Body: "Flood warning: move to higher ground"},
		TransmittedAreas: models.NewAreas(
			[]string{"ctry19-E92000001", "london"},
			[]string{"England", "London"},
			[]models.Polygon{{{51.3, 0.7}, {51.4, 0.8}, {51.3, 0.7}}, {{52.0, -1.5}}},
		),
		TransmittedSender:     "notifications.service.gov.uk",
		TransmittedFinishesAt: &finishes,
		SentAt:                sentAt,
	}
}

func TestBuildAlert(t *testing.T) {
	ev := testEvent(models.BroadcastMessageTypeAlert, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	out, err := Build(ev, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var got Alert
	if err := xml.Unmarshal(out, &got); err != nil {
		t.Fatalf("output is not valid XML: %v", err)
	}

	if got.Identifier != ev.ID.String() {
		t.Errorf("identifier = %q", got.Identifier)
	}
	if got.MsgType != "Alert" {
		t.Errorf("msgType = %q", got.MsgType)
	}
	if got.Sent != "2026-10-18T12:00:00+00:00" {
		t.Errorf("sent = %q", got.Sent)
	}
	if got.Status != "Actual" {
		t.Errorf("status = %q", got.Status)
	}
	if strings.Contains(string(out), "<references>") {
		t.Error("alert must not carry references")
	}
	if got.Info.Expires != "2026-10-18T15:00:00+00:00" {
		t.Errorf("expires = %q", got.Info.Expires)
	}
	if got.Info.Description != "Flood warning: move to higher ground" {
		t.Errorf("description = %q", got.Info.Description)
	}
	if got.Info.Category != "Met" || got.Info.Urgency != "Immediate" || got.Info.Severity != "Severe" || got.Info.Certainty != "Likely" {
		t.Errorf("unexpected info fixed fields: %+v", got.Info)
	}
	if len(got.Info.Area.Polygons) != 2 || got.Info.Area.Polygons[0] != "51.3,0.7 51.4,0.8 51.3,0.7" {
		t.Errorf("polygons = %v", got.Info.Area.Polygons)
	}
	if len(got.Info.Area.Geocodes) != 2 || got.Info.Area.Geocodes[1] != "london" {
		t.Errorf("geocodes = %v", got.Info.Area.Geocodes)
	}
	if got.Info.Area.AreaDesc != "England, London" {
		t.Errorf("areaDesc = %q", got.Info.Area.AreaDesc)
	}
}

func TestBuildCancelReferencesEarlierEventsOldestFirst(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	first := testEvent(models.BroadcastMessageTypeAlert, base)
	second := testEvent(models.BroadcastMessageTypeUpdate, base.Add(10*time.Minute))
	cancel := testEvent(models.BroadcastMessageTypeCancel, base.Add(20*time.Minute))

	alert, err := NewAlert(cancel, []models.BroadcastEvent{first, second})
	if err != nil {
		t.Fatalf("NewAlert: %v", err)
	}

	if alert.MsgType != "Cancel" {
		t.Errorf("msgType = %q", alert.MsgType)
	}
	want := "notifications.service.gov.uk," + first.ID.String() + ",2026-10-18T12:00:00+00:00 " +
		"notifications.service.gov.uk," + second.ID.String() + ",2026-10-18T12:10:00+00:00"
	if alert.References != want {
		t.Errorf("references =\n%q\nwant\n%q", alert.References, want)
	}
}

func TestBuildOmitsExpiresWithoutFinish(t *testing.T) {
	ev := testEvent(models.BroadcastMessageTypeAlert, time.Now())
	ev.TransmittedFinishesAt = nil

	out, err := Build(ev, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "<expires>") {
		t.Error("expires should be omitted")
	}
}

func TestBuildRejectsUnknownMessageType(t *testing.T) {
	ev := testEvent("ack", time.Now())
	if _, err := Build(ev, nil); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestFormatTimeConvertsToUTC(t *testing.T) {
	bst := time.FixedZone("BST", 3600)
	got := FormatTime(time.Date(2026, 6, 1, 13, 0, 0, 0, bst))
	if got != "2026-06-01T12:00:00+00:00" {
		t.Errorf("FormatTime = %q", got)
	}
}
