package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/honux/lolbuff/internal/workerconfig"
)

// ticketQueue is the decoded shape of the login-queue's initial response
// when a caller must wait in line rather than being handed a token
// immediately.
type ticketQueue struct {
	Node    int            `json:"node"`
	Rate    int            `json:"rate"`
	Delay   int            `json:"delay"`
	Tickers []ticketTicker `json:"tickers"`
}

type ticketTicker struct {
	Node    int `json:"node"`
	ID      int `json:"id"`
	Current int `json:"current"`
}

// getAuthToken polls the league login queue until a token is issued,
// honoring the queue's reported delay between polls.
func getAuthToken(ctx context.Context, cfg workerconfig.LoginConfig, username, password string) (string, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	base := "https://" + cfg.LoginServerAddress

	form := url.Values{}
	form.Set("payload", fmt.Sprintf("user=%s,password=%s", username, password))
	body, err := postForm(ctx, client, base+"/login-queue/rest/queue/authenticate", form)
	if err != nil {
		return "", fmt.Errorf("session: requesting auth token: %w", err)
	}

	if token, ok := extractToken(body); ok {
		return token, nil
	}

	var queue ticketQueue
	if err := json.Unmarshal(body, &queue); err != nil {
		return "", fmt.Errorf("session: decoding login queue response: %w", err)
	}

	nodeKey := strconv.Itoa(queue.Node)
	var id, cur int
	for _, t := range queue.Tickers {
		if t.Node != queue.Node {
			continue
		}
		id, cur = t.ID, t.Current
		break
	}

	floor := time.Duration(cfg.PollIntervalFloor) * time.Millisecond
	delay := time.Duration(queue.Delay) * time.Millisecond
	if delay < floor {
		delay = floor
	}

	for id-cur > queue.Rate {
		if err := sleepCtx(ctx, delay); err != nil {
			return "", err
		}
		body, err := get(ctx, client, fmt.Sprintf("%s/login-queue/rest/queue/ticker/%s", base, nodeKey))
		if err != nil {
			return "", fmt.Errorf("session: polling login queue ticker: %w", err)
		}
		var status map[string]string
		if err := json.Unmarshal(body, &status); err != nil {
			return "", fmt.Errorf("session: decoding ticker response: %w", err)
		}
		hex, ok := status[nodeKey]
		if !ok {
			return "", fmt.Errorf("session: ticker response missing node %s", nodeKey)
		}
		cur64, err := strconv.ParseInt(hex, 16, 64)
		if err != nil {
			return "", fmt.Errorf("session: parsing ticker position %q: %w", hex, err)
		}
		cur = int(cur64)
	}

	for {
		if err := sleepCtx(ctx, delay); err != nil {
			return "", err
		}
		body, err := get(ctx, client, fmt.Sprintf("%s/login-queue/rest/queue/authToken/%s", base, username))
		if err != nil {
			continue
		}
		if token, ok := extractToken(body); ok {
			return token, nil
		}
	}
}

func extractToken(body []byte) (string, bool) {
	var withToken struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &withToken); err != nil || withToken.Token == "" {
		return "", false
	}
	return withToken.Token, true
}

func postForm(ctx context.Context, client *http.Client, target string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(client, req)
}

func get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
