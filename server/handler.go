package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itsrealkaran/eth-date/data"
)

const sessionCookieName = "eth_date_session"

var jwtSecret = func() []byte {
	if s := os.Getenv("ETH_DATE_SECRET"); s != "" {
		return []byte(s)
	}
	// ephemeral secret, sessions don't survive a restart
	return []byte(Random(32))
}()

// getSessionToken retrieves or creates a signed session token cookie
// and returns the session id it carries
func getSessionToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if id := parseSessionToken(cookie.Value); id != "" {
			return id
		}
	}

	id := Random(16)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": id,
	})
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		log.Printf("[session] sign: %v", err)
		return id
	}

	// Check X-Forwarded-Proto for HTTPS behind proxy
	isSecure := r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// parseSessionToken validates a session JWT and returns its session id
func parseSessionToken(value string) string {
	token, err := jwt.Parse(value, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sid, _ := claims["sid"].(string)
	return sid
}

// SocketHandler upgrades /ws connections and attaches them to the
// broadcast loop. The user id comes from the ?user query param, the
// session cookie stands in when the client has none yet.
func SocketHandler(w http.ResponseWriter, r *http.Request) {
	if !IsWebSocket(r) {
		http.Error(w, "expected websocket upgrade", 400)
		return
	}

	session := getSessionToken(w, r)
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = session
	}

	o := NewObserver(userID, session)
	Default.Observe(o)
	ServeWebSocket(w, r, o)
}

// ProfilesHandler registers and looks up gender profiles
// GET /profiles?id=uuid - fetch a profile
// POST /profiles - {"uuid": ..., "gender": ...}
func ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case "GET":
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, `{"error": "missing id"}`, 400)
			return
		}
		prof, ok := data.DefaultProfiles().Get(id)
		if !ok {
			http.Error(w, `{"error": "not found"}`, 404)
			return
		}
		json.NewEncoder(w).Encode(prof)
	case "POST":
		var prof data.Profile
		if err := json.NewDecoder(r.Body).Decode(&prof); err != nil {
			http.Error(w, `{"error": "bad request"}`, 400)
			return
		}
		if prof.UUID == "" || prof.Gender == "" {
			http.Error(w, `{"error": "uuid and gender required"}`, 400)
			return
		}
		if err := data.DefaultProfiles().Set(prof.UUID, prof.Gender); err != nil {
			log.Printf("[profiles] set: %v", err)
			http.Error(w, `{"error": "internal"}`, 500)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	default:
		http.Error(w, `{"error": "unsupported method"}`, 405)
	}
}

// HealthHandler reports liveness and how many users are tracked
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"tracked": Default.Positions().Len(),
	})
}
