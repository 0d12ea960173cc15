package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type staticTokens string

func (t staticTokens) AccessToken() string { return string(t) }

// newTestClient spins an httptest server around the handler and returns a
// client pointed at it.
func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:  server.URL,
		Tokens:   staticTokens(token),
		DeviceID: "dev-1",
	}, zerolog.Nop())
}

func TestClient_BearerAndDeviceHeaders(t *testing.T) {
	client := newTestClient(t, "tok-123", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("expected bearer header, got %q", got)
		}
		if got := r.Header.Get("X-Device-ID"); got != "dev-1" {
			t.Errorf("expected device header, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected JSON content type, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user": map[string]interface{}{"id": "u1", "nickname": "Kim"},
		})
	})

	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() error: %v", err)
	}
	if user.ID != "u1" || user.Nickname != "Kim" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestClient_VerifyTokenSkipsStoredAuth(t *testing.T) {
	client := newTestClient(t, "tok-123", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/verify" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("verify must not attach the stored token, got %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "candidate" {
			t.Errorf("expected candidate token in body, got %q", body["token"])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	if err := client.VerifyToken(context.Background(), "candidate"); err != nil {
		t.Fatalf("VerifyToken() error: %v", err)
	}
}

func TestClient_GetVoiceToken(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/voice/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["channelId"] != "ch1" {
			t.Errorf("expected channelId ch1, got %q", body["channelId"])
		}
		json.NewEncoder(w).Encode(VoiceToken{Token: "vt", ChannelID: "ch1", UID: 42})
	})

	vt, err := client.GetVoiceToken(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("GetVoiceToken() error: %v", err)
	}
	if vt.Token != "vt" || vt.ChannelID != "ch1" || vt.UID != 42 {
		t.Errorf("unexpected voice token: %+v", vt)
	}
}

func TestClient_RateMatch(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/match/s1/rate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["rating"] != "good" {
			t.Errorf("expected rating good, got %q", body["rating"])
		}
		w.Write([]byte(`{}`))
	})

	if err := client.RateMatch(context.Background(), "s1", RatingGood); err != nil {
		t.Fatalf("RateMatch() error: %v", err)
	}
}

func TestClient_RateMatchRejectsUnknownRating(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		t.Error("validation failures must not reach the backend")
	})
	if err := client.RateMatch(context.Background(), "s1", Rating("amazing")); err == nil {
		t.Fatal("expected error for unknown rating")
	}
}

func TestClient_CancelMatchMethod(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/match/cancel" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{}`))
	})
	if err := client.CancelMatch(context.Background()); err != nil {
		t.Fatalf("CancelMatch() error: %v", err)
	}
}

func TestClient_SubmitReportValidation(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		t.Error("validation failures must not reach the backend")
	})

	err := client.SubmitReport(context.Background(), Report{ReportedID: "p1", Reason: "rude"})
	if err == nil {
		t.Fatal("expected error for invalid reason")
	}
	err = client.SubmitReport(context.Background(), Report{Reason: ReasonSpam})
	if err == nil {
		t.Fatal("expected error for missing reported id")
	}
}

func TestClient_SubmitReport(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		var report Report
		json.NewDecoder(r.Body).Decode(&report)
		if report.ReportedID != "p1" || report.Reason != ReasonHarassment || report.SessionID != "s1" {
			t.Errorf("unexpected report payload: %+v", report)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	err := client.SubmitReport(context.Background(), Report{
		ReportedID: "p1",
		SessionID:  "s1",
		Reason:     ReasonHarassment,
	})
	if err != nil {
		t.Fatalf("SubmitReport() error: %v", err)
	}
}

func TestClient_BackendErrorMessageSurfaces(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"이미 매칭 중입니다"}`))
	})

	err := client.StartMatch(context.Background(), []string{"movies"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "이미 매칭 중입니다" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_ListPostsQuery(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("category") != "free" || q.Get("cursor") != "c1" || q.Get("limit") != "20" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(PostPage{
			Posts:      []Post{{ID: "post-1", Title: "hello"}},
			NextCursor: "c2",
		})
	})

	page, err := client.ListPosts(context.Background(), PostQuery{Category: "free", Cursor: "c1", Limit: 20})
	if err != nil {
		t.Fatalf("ListPosts() error: %v", err)
	}
	if len(page.Posts) != 1 || page.Posts[0].ID != "post-1" || page.NextCursor != "c2" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestClient_ToggleLike(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts/post-1/like" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"liked":true}`))
	})

	liked, err := client.ToggleLike(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("ToggleLike() error: %v", err)
	}
	if !liked {
		t.Error("expected liked=true")
	}
}

func TestClient_OnlineCountPublic(t *testing.T) {
	client := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("online count is public, got auth header %q", got)
		}
		w.Write([]byte(`{"count":128}`))
	})

	count, err := client.OnlineCount(context.Background())
	if err != nil {
		t.Fatalf("OnlineCount() error: %v", err)
	}
	if count != 128 {
		t.Errorf("expected 128, got %d", count)
	}
}
