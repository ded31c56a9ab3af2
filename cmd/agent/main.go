// 헤드리스 통화 참가자. 서버에 로그인해 학급 통화에 참가하고 시그널링
// WebSocket을 통해 Pion 피어 연결을 맺는다. 서버 없이 브라우저 참가자와
// 상호 연결 테스트를 할 때 사용한다.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"classhub-backend/internal/call"
	"classhub-backend/internal/relay"
)

type loginResponse struct {
	User struct {
		ID       int64  `json:"id"`
		Nickname string `json:"nickname"`
	} `json:"user"`
	AccessToken string `json:"access_token"`
}

type joinResponse struct {
	Session struct {
		ID int64 `json:"id"`
	} `json:"session"`
	Created     bool     `json:"created"`
	StunServers []string `json:"stun_servers"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:3000", "backend base URL")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "login password")
	classroomID := flag.Int64("classroom", 0, "classroom ID to call in")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated STUN server URLs")
	mediaOff := flag.Bool("recv-only", false, "join without capture devices")
	flag.Parse()

	if *email == "" || *password == "" || *classroomID == 0 {
		flag.Usage()
		os.Exit(2)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	login, err := doLogin(httpClient, *serverURL, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Printf("logged in as %s (id=%d)", login.User.Nickname, login.User.ID)

	join, err := doJoinCall(httpClient, *serverURL, login.AccessToken, *classroomID)
	if err != nil {
		log.Fatalf("call join failed: %v", err)
	}
	if join.Created {
		log.Printf("started call session %d", join.Session.ID)
	} else {
		log.Printf("joined call session %d", join.Session.ID)
	}

	wsURL, err := signalingURL(*serverURL, join.Session.ID, login.AccessToken)
	if err != nil {
		log.Fatalf("bad server URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := relay.Dial(ctx, wsURL, nil)
	cancel()
	if err != nil {
		log.Fatalf("signaling dial failed: %v", err)
	}

	var media *call.LocalMedia
	if !*mediaOff {
		media = call.NewLocalMedia()
	}

	stunServers := join.StunServers
	if len(stunServers) == 0 {
		stunServers = strings.Split(*stun, ",")
	}

	engine, err := call.NewEngine(join.Session.ID, strconv.FormatInt(login.User.ID, 10), client, media, stunServers)
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	engine.OnTrack(func(remoteID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("track from peer %s: %s (%s)", remoteID, track.Kind(), track.Codec().MimeType)
		// 수신 버퍼가 차지 않도록 흘려보낸다
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("leaving call...")
	case <-client.Done():
		log.Println("signaling connection lost")
	}

	if err := doLeaveCall(httpClient, *serverURL, login.AccessToken, join.Session.ID); err != nil {
		log.Printf("leave request failed: %v", err)
	}

	engine.Close()
	if media != nil {
		media.Close()
	}
	client.Close()
}

func doLogin(client *http.Client, base, email, password string) (*loginResponse, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := client.Post(base+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, err
	}
	return &login, nil
}

func doJoinCall(client *http.Client, base, token string, classroomID int64) (*joinResponse, error) {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/classrooms/%d/call", base, classroomID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var join joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		return nil, err
	}
	return &join, nil
}

func doLeaveCall(client *http.Client, base, token string, sessionID int64) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/calls/%d/leave", base, sessionID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return nil
}

func signalingURL(base string, sessionID int64, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/ws/call/%d", sessionID)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
