// Package fakeapi serves in-process stand-ins for the Solarman and PVOutput
// HTTP APIs so clients can be exercised without the network.
package fakeapi

import (
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// New returns a fiber app with both fake APIs mounted. Either may be nil.
func New(solarman *SolarmanAPI, pvoutput *PVOutputAPI) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	if solarman != nil {
		solarman.RegisterRoutes(app)
	}
	if pvoutput != nil {
		pvoutput.RegisterRoutes(app)
	}
	return app
}

// Transport routes requests from an *http.Client into a fiber app.
type Transport struct {
	App *fiber.App
}

func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.ContentLength > 0 {
		req.Header.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
	}
	return t.App.Test(req, -1)
}

// Client returns an *http.Client backed by app.
func Client(app *fiber.App) *http.Client {
	return &http.Client{Transport: Transport{App: app}}
}

// SolarmanAPI fakes the token, plant power and inverter data endpoints.
// PlantPower and InverterData are served verbatim as response bodies.
type SolarmanAPI struct {
	ClientID     string
	ClientSecret string
	UID          string
	Token        string

	PlantPower   string
	InverterData string
	// DataStatus overrides the status code of the data endpoints when set.
	DataStatus int

	mu         sync.Mutex
	tokenCalls int
	dataCalls  int
	lastQuery  url.Values
}

type tokenQuery struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	GrantType    string `validate:"eq=client_credentials"`
}

func (s *SolarmanAPI) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Get("/oauth2/accessToken", func(c *fiber.Ctx) error {
		s.mu.Lock()
		s.tokenCalls++
		s.mu.Unlock()

		q := tokenQuery{
			ClientID:     c.Query("client_id"),
			ClientSecret: c.Query("client_secret"),
			GrantType:    c.Query("grant_type"),
		}
		if err := validate.Struct(q); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": 400, "msg": err.Error()})
		}
		if q.ClientID != s.ClientID || q.ClientSecret != s.ClientSecret {
			return c.JSON(fiber.Map{"code": 2101, "msg": "invalid client"})
		}
		return c.JSON(fiber.Map{
			"code": 0,
			"data": fiber.Map{"uid": s.UID, "access_token": s.Token},
		})
	})

	v1.Get("/plant/power", s.serveData(func() string { return s.PlantPower }))
	v1.Get("/device/inverter/data", s.serveData(func() string { return s.InverterData }))
}

func (s *SolarmanAPI) serveData(body func() string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s.mu.Lock()
		s.dataCalls++
		q := url.Values{}
		c.Context().QueryArgs().VisitAll(func(k, v []byte) {
			q.Add(string(k), string(v))
		})
		s.lastQuery = q
		s.mu.Unlock()

		if c.Get("uid") != s.UID || c.Get("token") != s.Token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": 401, "msg": "invalid token"})
		}
		if s.DataStatus != 0 {
			return c.Status(s.DataStatus).SendString(http.StatusText(s.DataStatus))
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(body())
	}
}

// Calls reports how many token and data requests were served.
func (s *SolarmanAPI) Calls() (token, data int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls, s.dataCalls
}

// LastQuery returns the query string of the most recent data request.
func (s *SolarmanAPI) LastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

// PVOutputAPI fakes addstatus.jsp and records accepted statuses.
type PVOutputAPI struct {
	APIKey   string
	SystemID string
	// Status forces a response code (e.g. 429) when set.
	Status int

	mu       sync.Mutex
	calls    int
	statuses []url.Values
}

type statusForm struct {
	Date  string `validate:"required,len=8,numeric"`
	Time  string `validate:"required,len=5"`
	Power string `validate:"required,numeric"`
}

func (s *PVOutputAPI) RegisterRoutes(app *fiber.App) {
	r2 := app.Group("/service/r2")

	r2.Post("/addstatus.jsp", func(c *fiber.Ctx) error {
		s.mu.Lock()
		s.calls++
		s.mu.Unlock()

		if c.Get("X-Pvoutput-Apikey") != s.APIKey || c.Get("X-Pvoutput-SystemId") != s.SystemID {
			return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized 401: Invalid API Key")
		}
		if s.Status != 0 {
			return c.Status(s.Status).SendString(http.StatusText(s.Status))
		}

		form := statusForm{Date: c.FormValue("d"), Time: c.FormValue("t"), Power: c.FormValue("v2")}
		if err := validate.Struct(form); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Bad request 400: " + err.Error())
		}

		values := url.Values{}
		for _, k := range []string{"d", "t", "v2", "v5", "v6"} {
			if v := c.FormValue(k); v != "" {
				values.Set(k, v)
			}
		}
		s.mu.Lock()
		s.statuses = append(s.statuses, values)
		s.mu.Unlock()

		return c.SendString("OK 200: Added Status")
	})
}

// Statuses returns the accepted status submissions in order.
func (s *PVOutputAPI) Statuses() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// Calls reports how many addstatus requests were received.
func (s *PVOutputAPI) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
