// Package cap renders broadcast events as Common Alerting Protocol 1.2 XML.
package cap

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
)

const Namespace = "urn:oasis:names:tc:emergency:cap:1.2"

// CAP forbids the "Z" suffix, so offsets are always written out.
const timeLayout = "2006-01-02T15:04:05-07:00"

type Alert struct {
	XMLName    xml.Name `xml:"alert"`
	Xmlns      string   `xml:"xmlns,attr"`
	Identifier string   `xml:"identifier"`
	Sender     string   `xml:"sender"`
	Sent       string   `xml:"sent"`
	Status     string   `xml:"status"`
	MsgType    string   `xml:"msgType"`
	References string   `xml:"references,omitempty"`
	Info       Info     `xml:"info"`
}

type Info struct {
	Category    string `xml:"category"`
	Urgency     string `xml:"urgency"`
	Severity    string `xml:"severity"`
	Certainty   string `xml:"certainty"`
	Expires     string `xml:"expires,omitempty"`
	Description string `xml:"description"`
	Area        Area   `xml:"area"`
}

type Area struct {
	AreaDesc string   `xml:"areaDesc"`
	Polygons []string `xml:"polygon"`
	Geocodes []string `xml:"geocode"`
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func msgType(t models.BroadcastMessageType) (string, error) {
	switch t {
	case models.BroadcastMessageTypeAlert:
		return "Alert", nil
	case models.BroadcastMessageTypeUpdate:
		return "Update", nil
	case models.BroadcastMessageTypeCancel:
		return "Cancel", nil
	}
	return "", fmt.Errorf("unknown message type %q", t)
}

// Reference is the "sender,identifier,sent" triple another message uses to
// point back at ev.
func Reference(ev models.BroadcastEvent) string {
	return ev.TransmittedSender + "," + ev.ID.String() + "," + FormatTime(ev.SentAt)
}

func formatPolygon(p models.Polygon) string {
	points := make([]string, 0, len(p))
	for _, pt := range p {
		coords := make([]string, 0, len(pt))
		for _, c := range pt {
			coords = append(coords, strconv.FormatFloat(c, 'f', -1, 64))
		}
		points = append(points, strings.Join(coords, ","))
	}
	return strings.Join(points, " ")
}

// NewAlert maps an event and its earlier events (oldest first) onto the CAP
// structure. Alerts never carry references.
func NewAlert(ev models.BroadcastEvent, earlier []models.BroadcastEvent) (*Alert, error) {
	mt, err := msgType(ev.MessageType)
	if err != nil {
		return nil, err
	}

	alert := &Alert{
		Xmlns:      Namespace,
		Identifier: ev.ID.String(),
		Sender:     ev.TransmittedSender,
		Sent:       FormatTime(ev.SentAt),
		Status:     "Actual",
		MsgType:    mt,
		Info: Info{
			Category:    "Met",
			Urgency:     "Immediate",
			Severity:    "Severe",
			Certainty:   "Likely",
			Description: ev.TransmittedContent.Body,
		},
	}

	if ev.MessageType != models.BroadcastMessageTypeAlert {
		refs := make([]string, 0, len(earlier))
		for _, e := range earlier {
			refs = append(refs, Reference(e))
		}
		alert.References = strings.Join(refs, " ")
	}

	if ev.TransmittedFinishesAt != nil {
		alert.Info.Expires = FormatTime(*ev.TransmittedFinishesAt)
	}

	areas := ev.TransmittedAreas
	alert.Info.Area.AreaDesc = strings.Join(areas.Names(), ", ")
	for _, p := range areas.SimplePolygons() {
		alert.Info.Area.Polygons = append(alert.Info.Area.Polygons, formatPolygon(p))
	}
	alert.Info.Area.Geocodes = append(alert.Info.Area.Geocodes, areas.IDs()...)

	return alert, nil
}

// Build renders ev as an XML document.
func Build(ev models.BroadcastEvent, earlier []models.BroadcastEvent) ([]byte, error) {
	alert, err := NewAlert(ev, earlier)
	if err != nil {
		return nil, err
	}
	out, err := xml.MarshalIndent(alert, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
