package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gymhub/chat/internal/model"
)

// RemoteVerifier делегирует проверку токена сервису авторизации
// (POST {baseURL}/internal/verify).
type RemoteVerifier struct {
	baseURL string
	role    model.ParticipantRole
	client  *http.Client
}

func NewRemoteVerifier(baseURL string, role model.ParticipantRole, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteVerifier{baseURL: strings.TrimRight(baseURL, "/"), role: role, client: client}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (model.Participant, error) {
	if token == "" {
		return model.Participant{}, ErrInvalidToken
	}
	body, _ := json.Marshal(map[string]string{"token": token, "role": string(v.role)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/internal/verify", bytes.NewReader(body))
	if err != nil {
		return model.Participant{}, fmt.Errorf("remoteVerifier.Verify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return model.Participant{}, fmt.Errorf("%w: auth service: %w", ErrInvalidToken, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Participant{}, fmt.Errorf("%w: auth service status %d", ErrInvalidToken, resp.StatusCode)
	}
	var result struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || strings.TrimSpace(result.ParticipantID) == "" {
		return model.Participant{}, fmt.Errorf("%w: bad auth service response", ErrInvalidToken)
	}
	return model.Participant{ID: strings.TrimSpace(result.ParticipantID), Role: v.role}, nil
}
