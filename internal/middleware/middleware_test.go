package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var secret = []byte("test-secret")

func testApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", Auth(secret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"identity": GetIdentity(c), "token": GetToken(c)})
	})
	return app
}

func TestAuth_TokenSources(t *testing.T) {
	id := models.Identity{UID: "u1", Email: "ana@sol.com"}
	tok, err := utils.GenerateToken(secret, id, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		setup func(r *httptestRequest)
	}{
		{"bearer header", func(r *httptestRequest) { r.header("Authorization", "Bearer "+tok) }},
		{"lowercase scheme", func(r *httptestRequest) { r.header("Authorization", "bearer "+tok) }},
		{"cookie", func(r *httptestRequest) { r.header("Cookie", "token="+tok) }},
		{"query", func(r *httptestRequest) { r.path += "?token=" + tok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &httptestRequest{path: "/me", headers: map[string]string{}}
			tt.setup(r)
			resp, err := testApp().Test(r.build())
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var body struct {
				Identity models.Identity `json:"identity"`
				Token    string          `json:"token"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Identity.UID != "u1" || body.Token != tok {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestAuth_Rejects(t *testing.T) {
	for name, header := range map[string]string{
		"missing":       "",
		"invalid token": "Bearer nope",
		"basic scheme":  "Basic dXNlcjpwYXNz",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := testApp().Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Get("/", RateLimiter(2, time.Minute), func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i, want := range []int{200, 200, 429} {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != want {
			t.Errorf("request %d status = %d, want %d", i, resp.StatusCode, want)
		}
		if want == 429 && resp.Header.Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
		}
	}
}

func TestSendRateLimiterPerConversation(t *testing.T) {
	app := fiber.New()
	app.Post("/c/:id", SendRateLimiter(), func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 30; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/c/a", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("send %d status = %d", i, resp.StatusCode)
		}
	}

	resp, _ := app.Test(httptest.NewRequest("POST", "/c/a", nil))
	if resp.StatusCode != 429 {
		t.Errorf("31st send to same conversation = %d, want 429", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("POST", "/c/b", nil))
	if resp.StatusCode != 200 {
		t.Errorf("send to other conversation = %d, want 200", resp.StatusCode)
	}
}

type httptestRequest struct {
	path    string
	headers map[string]string
}

func (r *httptestRequest) header(k, v string) { r.headers[k] = v }

func (r *httptestRequest) build() *http.Request {
	req := httptest.NewRequest("GET", r.path, nil)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	app := fiber.New()
	app.Use(RequestLogger(zap.New(core)))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	app.Test(httptest.NewRequest("GET", "/ok", nil))
	app.Test(httptest.NewRequest("GET", "/missing", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["status"] != int64(200) {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["status"] != int64(404) {
		t.Errorf("second entry = %+v", entries[1])
	}
}
