// Command authflow_smoke exercises a running auth server end to end: login,
// verify, rotate, replay the retired token, logout. Exits non-zero when the
// observed behaviour deviates.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type envelope struct {
	Data tokenPair `json:"data"`
}

func main() {
	var (
		base     string
		login    string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&login, "login", "admin", "Login to authenticate with")
	flag.StringVar(&password, "password", "admin", "Password to authenticate with")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	failures := 0

	check := func(name string, ok bool, detail string) {
		if ok {
			fmt.Printf("PASS %s\n", name)
			return
		}
		failures++
		fmt.Printf("FAIL %s: %s\n", name, detail)
	}

	status, pair := postPair(client, base+"/auth/login", map[string]string{"login": login, "password": password})
	check("login", status == http.StatusOK && pair.RefreshToken != "", fmt.Sprintf("status=%d", status))
	if status != http.StatusOK {
		os.Exit(1)
	}

	status = postAuth(client, base+"/auth/verify", pair.AccessToken, nil)
	check("verify", status == http.StatusOK, fmt.Sprintf("status=%d", status))

	status = postAuth(client, base+"/auth/verify", pair.AccessToken+"x", nil)
	check("verify tampered token", status == http.StatusUnauthorized, fmt.Sprintf("status=%d", status))

	status, next := postPair(client, base+"/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	check("refresh", status == http.StatusOK && next.RefreshToken != pair.RefreshToken, fmt.Sprintf("status=%d", status))

	status, _ = postPair(client, base+"/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	check("replay retired token", status == http.StatusUnauthorized, fmt.Sprintf("status=%d", status))

	status = postAuth(client, base+"/auth/logout", next.AccessToken, map[string]string{"refresh_token": next.RefreshToken})
	check("logout", status == http.StatusOK, fmt.Sprintf("status=%d", status))

	status, _ = postPair(client, base+"/auth/refresh", map[string]string{"refresh_token": next.RefreshToken})
	check("refresh after logout", status == http.StatusUnauthorized, fmt.Sprintf("status=%d", status))

	if failures > 0 {
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}

func postPair(client *http.Client, url string, body map[string]string) (int, tokenPair) {
	payload, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env.Data
}

func postAuth(client *http.Client, url, accessToken string, body map[string]string) int {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}
