package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alphagov/notifications-api-sub002/internal/middleware"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/alphagov/notifications-api-sub002/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stubBroadcasts struct {
	err        error
	gotStatus  models.BroadcastStatus
	gotInput   services.CreateBroadcastInput
	gotActor   models.Actor
	gotRef     string
	capPayload []byte
}

func (s *stubBroadcasts) CreateBroadcast(_ context.Context, serviceID uuid.UUID, actor models.Actor, in services.CreateBroadcastInput) (*models.BroadcastMessage, error) {
	s.gotInput, s.gotActor = in, actor
	if s.err != nil {
		return nil, s.err
	}
	return &models.BroadcastMessage{ID: uuid.New(), ServiceID: serviceID, Status: models.BroadcastStatusDraft, Areas: in.Areas}, nil
}

func (s *stubBroadcasts) UpdateStatus(_ context.Context, serviceID, messageID uuid.UUID, newStatus models.BroadcastStatus, actor models.Actor) (*models.BroadcastMessage, error) {
	s.gotStatus, s.gotActor = newStatus, actor
	if s.err != nil {
		return nil, s.err
	}
	return &models.BroadcastMessage{ID: messageID, ServiceID: serviceID, Status: newStatus}, nil
}

func (s *stubBroadcasts) CancelByReference(_ context.Context, serviceID uuid.UUID, reference string, actor models.Actor) (*models.BroadcastMessage, error) {
	s.gotRef, s.gotActor = reference, actor
	if s.err != nil {
		return nil, s.err
	}
	return &models.BroadcastMessage{ID: uuid.New(), ServiceID: serviceID, Status: models.BroadcastStatusCancelled}, nil
}

func (s *stubBroadcasts) GetBroadcast(_ context.Context, serviceID, messageID uuid.UUID, _ models.Actor) (*models.BroadcastMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.BroadcastMessage{ID: messageID, ServiceID: serviceID}, nil
}

func (s *stubBroadcasts) ListBroadcasts(context.Context, uuid.UUID, models.Actor, int, int) ([]models.BroadcastMessage, error) {
	return nil, s.err
}

func (s *stubBroadcasts) ListEvents(context.Context, uuid.UUID, uuid.UUID, models.Actor) ([]models.BroadcastEvent, error) {
	return nil, s.err
}

func (s *stubBroadcasts) EventCAP(context.Context, uuid.UUID, models.Actor) ([]byte, error) {
	return s.capPayload, s.err
}

func (s *stubBroadcasts) AuditTrail(context.Context, uuid.UUID, uuid.UUID, models.Actor, int, int) ([]models.AuditLog, error) {
	return nil, s.err
}

func newTestApp(stub *stubBroadcasts, actor models.Actor) *fiber.App {
	h := NewBroadcastHandler(stub, zap.NewNop())
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.CtxActor, actor)
		return c.Next()
	})
	svc := app.Group("/services/:serviceId/broadcast-messages")
	svc.Post("/", h.CreateBroadcast)
	svc.Get("/", h.ListBroadcasts)
	svc.Post("/cancel", h.CancelByReference)
	svc.Get("/:id", h.GetBroadcast)
	svc.Post("/:id/status", h.UpdateStatus)
	svc.Get("/:id/events", h.ListEvents)
	svc.Get("/:id/audit", h.GetAuditTrail)
	app.Get("/broadcast-events/:id/cap", h.GetEventCAP)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestUpdateStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
	}{
		{name: "ok", body: `{"status":"broadcasting"}`, wantStatus: fiber.StatusOK},
		{name: "unknown status", body: `{"status":"sent"}`, wantStatus: fiber.StatusBadRequest},
		{name: "illegal transition", err: services.ErrIllegalTransition, body: `{"status":"draft"}`, wantStatus: fiber.StatusBadRequest},
		{name: "self approval", err: services.ErrSelfApprovalForbidden, body: `{"status":"broadcasting"}`, wantStatus: fiber.StatusBadRequest},
		{name: "no areas", err: services.ErrNoAreasSelected, body: `{"status":"broadcasting"}`, wantStatus: fiber.StatusBadRequest},
		{name: "forbidden", err: services.ErrForbidden, body: `{"status":"cancelled"}`, wantStatus: fiber.StatusForbidden},
		{name: "not found", err: services.ErrNotFound, body: `{"status":"cancelled"}`, wantStatus: fiber.StatusNotFound},
		{name: "unexpected", err: fmt.Errorf("db: %w", context.DeadlineExceeded), body: `{"status":"cancelled"}`, wantStatus: fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubBroadcasts{err: tt.err}
			app := newTestApp(stub, models.UserActor(uuid.New(), false))
			path := fmt.Sprintf("/services/%s/broadcast-messages/%s/status", uuid.New(), uuid.New())

			status, body := doJSON(t, app, "POST", path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", status, tt.wantStatus, body)
			}
		})
	}
}

func TestCreateBroadcastParsesAreas(t *testing.T) {
	stub := &stubBroadcasts{}
	app := newTestApp(stub, models.APIKeyActor(uuid.New(), uuid.New()))
	path := fmt.Sprintf("/services/%s/broadcast-messages/", uuid.New())

	body := `{"content":"Flood warning","reference":"ref-1","areas":{"ids":["london"],"names":["London"],"simple_polygons":[[[51.3,0.7]]]}}`
	status, resp := doJSON(t, app, "POST", path, body)
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d (%s)", status, resp)
	}
	if !stub.gotInput.Areas.HasPolygons() || stub.gotInput.Areas.IDs()[0] != "london" {
		t.Errorf("areas = %+v", stub.gotInput.Areas)
	}
	if !stub.gotActor.IsAPIKey() {
		t.Error("actor not passed through")
	}

	var decoded struct {
		Data struct {
			Areas struct {
				IDs []string `json:"ids"`
			} `json:"areas"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp), &decoded); err != nil || len(decoded.Data.Areas.IDs) != 1 {
		t.Errorf("response areas = %s", resp)
	}

	incomplete := `{"content":"x","reference":"r","areas":{"ids":["london"]}}`
	if status, _ := doJSON(t, app, "POST", path, incomplete); status != fiber.StatusBadRequest {
		t.Errorf("incomplete areas status = %d, want 400", status)
	}
}

func TestCancelByReference(t *testing.T) {
	stub := &stubBroadcasts{}
	app := newTestApp(stub, models.APIKeyActor(uuid.New(), uuid.New()))
	path := fmt.Sprintf("/services/%s/broadcast-messages/cancel", uuid.New())

	status, _ := doJSON(t, app, "POST", path, `{"reference":"flood-1"}`)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if stub.gotRef != "flood-1" {
		t.Errorf("reference = %q", stub.gotRef)
	}
}

func TestGetEventCAP(t *testing.T) {
	stub := &stubBroadcasts{capPayload: []byte("<alert/>")}
	app := newTestApp(stub, models.UserActor(uuid.New(), true))

	req := httptest.NewRequest("GET", "/broadcast-events/"+uuid.New().String()+"/cap", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/cap+xml" {
		t.Errorf("Content-Type = %q", ct)
	}

	req = httptest.NewRequest("GET", "/broadcast-events/not-a-uuid/cap", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
}
