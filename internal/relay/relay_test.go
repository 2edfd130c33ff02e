package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"crmchat/server/internal/models"
)

type captured struct {
	auth string
	body models.SendRequest
}

func relayServer(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got != nil {
			got.auth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&got.body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_TextWithToken(t *testing.T) {
	var got captured
	srv := relayServer(t, http.StatusOK, `{"ok":true,"results":[{"to":"5491100000000","id":"wamid.1"}]}`, &got)

	c := New(srv.URL, 0, nil)
	resp, err := c.Send(context.Background(), "session-token", models.SendRequest{
		To:             "5491100000000",
		ConversationID: "conv-1",
		Text:           "Hola",
		ReplyTo:        &models.ReplyTarget{ID: "m1", Type: "text", Text: "hi"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.OK || len(resp.Results) != 1 || resp.Results[0].ID != "wamid.1" {
		t.Errorf("resp = %+v", resp)
	}
	if got.auth != "Bearer session-token" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.body.Text != "Hola" || got.body.ReplyTo == nil || got.body.ReplyTo.ID != "m1" {
		t.Errorf("body = %+v", got.body)
	}
}

func TestSend_NoTokenOmitsHeader(t *testing.T) {
	var got captured
	srv := relayServer(t, http.StatusOK, `{"ok":true,"results":[]}`, &got)

	if _, err := New(srv.URL, 0, nil).Send(context.Background(), "", models.SendRequest{To: "1", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if got.auth != "" {
		t.Errorf("Authorization = %q, want none", got.auth)
	}
}

func TestSend_TemplateBody(t *testing.T) {
	var got captured
	srv := relayServer(t, http.StatusOK, `{"ok":true,"results":[{"to":"1"}]}`, &got)

	tpl := &models.TemplatePayload{
		Name:     "reengage",
		Language: models.TemplateLanguage{Code: "es"},
		Components: []models.TemplateComponent{{
			Type:       "body",
			Parameters: []models.TemplateParameter{{Type: "text", Text: "Ana"}},
		}},
	}
	if _, err := New(srv.URL, 0, nil).Send(context.Background(), "t", models.SendRequest{To: "1", Template: tpl, SellerName: "Juan"}); err != nil {
		t.Fatal(err)
	}
	if got.body.Template == nil || got.body.Template.Name != "reengage" || got.body.SellerName != "Juan" {
		t.Fatalf("body = %+v", got.body)
	}
	if p := got.body.Template.Params(); len(p) != 1 || p[0] != "Ana" {
		t.Errorf("params = %v", p)
	}
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		reply      string
		wantStatus int
		wantMsg    string
	}{
		{"non-2xx with error string", http.StatusBadRequest, `{"ok":false,"error":"invalid recipient"}`, 400, "invalid recipient"},
		{"non-2xx with error object", http.StatusUnauthorized, `{"error":{"message":"token expired"}}`, 401, "token expired"},
		{"non-2xx plain text", http.StatusBadGateway, `upstream down`, 502, "upstream down"},
		{"non-2xx empty body", http.StatusInternalServerError, ``, 500, "Internal Server Error"},
		{"ok false", http.StatusOK, `{"ok":false,"error":"outside window"}`, 200, "outside window"},
		{"ok false with result error", http.StatusOK, `{"ok":false,"results":[{"to":"1","error":"blocked"}]}`, 200, "blocked"},
		{"malformed json", http.StatusOK, `{"ok":`, 200, "malformed relay response"},
		{"missing ok", http.StatusOK, `{"results":[{"to":"1","id":"wamid.1"}]}`, 200, "malformed relay response"},
		{"not an object", http.StatusOK, `[]`, 200, "malformed relay response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := relayServer(t, tt.status, tt.reply, nil)
			_, err := New(srv.URL, 0, nil).Send(context.Background(), "t", models.SendRequest{To: "1", Text: "x"})
			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if rerr.Status != tt.wantStatus || rerr.Message != tt.wantMsg {
				t.Errorf("Error = {%d %q}, want {%d %q}", rerr.Status, rerr.Message, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 0, nil).Send(context.Background(), "t", models.SendRequest{To: "1", Text: "x"})
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Status != 0 {
		t.Errorf("err = %v", err)
	}
}

func TestSend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("http://127.0.0.1:1", 0, nil).Send(ctx, "t", models.SendRequest{To: "1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFailedRecipients(t *testing.T) {
	resp := models.SendResponse{OK: true, Results: []models.SendResult{{To: "1"}, {To: "2", Error: "blocked"}}}
	got := FailedRecipients(resp)
	if len(got) != 1 || got[0].To != "2" {
		t.Errorf("FailedRecipients = %+v", got)
	}
}
