package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymhub/chat/internal/model"
)

type verifierFunc func(ctx context.Context, token string) (model.Participant, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (model.Participant, error) {
	return f(ctx, token)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestParticipantAuth(t *testing.T) {
	v := verifierFunc(func(_ context.Context, token string) (model.Participant, error) {
		switch token {
		case "user-token":
			return model.Participant{ID: "u-1", Role: model.RoleUser}, nil
		case "trainer-token":
			return model.Participant{ID: "t-1", Role: model.RoleTrainer}, nil
		}
		return model.Participant{}, errors.New("bad token")
	})

	var seen model.Participant
	mw := ParticipantAuth(model.RoleUser, v, "user_access_token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetParticipant(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		cookie string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"bad token", "nope", http.StatusUnauthorized},
		{"other role", "trainer-token", http.StatusUnauthorized},
		{"ok", "user-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/user", nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "user_access_token", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"authentication required","code":"authentication"}`, w.Body.String())
			}
		})
	}
	assert.Equal(t, model.Participant{ID: "u-1", Role: model.RoleUser}, seen)
}

func TestGetParticipantRejectsInvalid(t *testing.T) {
	_, ok := GetParticipant(context.Background())
	assert.False(t, ok)
	_, ok = GetParticipant(WithParticipant(context.Background(), model.Participant{ID: "x"}))
	assert.False(t, ok)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, 0)(okHandler)
	for i, want := range []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests} {
		r := httptest.NewRequest(http.MethodGet, "/api/user/conversations", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, want, w.Code, "request %d", i)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		if want == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), `"code":"rate_limited"`)
		}
	}

	// Other IPs have their own budget.
	r := httptest.NewRequest(http.MethodGet, "/api/user/conversations", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitPerParticipant(t *testing.T) {
	h := RateLimit(0, 1)(okHandler)
	p := model.Participant{ID: "u-1", Role: model.RoleUser}
	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(WithParticipant(r.Context(), p))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, want, w.Code, "request %d", i)
	}

	// Same raw id in the other role is a different participant.
	trainer := model.Participant{ID: "u-1", Role: model.RoleTrainer}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(WithParticipant(r.Context(), trainer))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(okHandler)

	tests := []struct {
		name   string
		remote string
		secret string
		xff    string
		want   int
	}{
		{"loopback", "127.0.0.1:5000", "", "", http.StatusNoContent},
		{"loopback v6", "[::1]:5000", "", "", http.StatusNoContent},
		{"private", "192.168.1.10:5000", "", "", http.StatusNoContent},
		{"public", "8.8.8.8:5000", "", "", http.StatusForbidden},
		{"public with forwarded header", "8.8.8.8:5000", "", "127.0.0.1", http.StatusForbidden},
		{"public with secret", "8.8.8.8:5000", "s3cret", "", http.StatusNoContent},
		{"public with wrong secret", "8.8.8.8:5000", "guess", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/internal/rooms/1", nil)
			r.RemoteAddr = tt.remote
			if tt.secret != "" {
				r.Header.Set("X-Internal-Secret", tt.secret)
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"internal"}`, w.Body.String())
}

func TestRecoverJSONAfterHeadersSent(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestRecoverJSONRepanicsOnAbort(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "eyJhbG***", MaskToken("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
}
