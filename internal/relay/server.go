package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/adapters/rtc"
	"github.com/pairline/pairline/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const turnCredentialTTL = 3600

// bearerToken extracts the credential from an Authorization header.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// AuthMiddleware rejects requests whose bearer credential does not match.
// An empty configured credential disables the check (local development).
func AuthMiddleware(credential string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if credential != "" && bearerToken(c) != credential {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}
		c.Next()
	}
}

// turnCredentials issues time-limited TURN credentials in the coturn REST
// convention: username is "<expiry>:<device>", password is the base64 HMAC
// of the username under the shared secret.
func turnCredentials(secret string, turnURLs []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		device := c.Query("device")
		if device == "" {
			device = "anonymous"
		}
		expiry := time.Now().Unix() + turnCredentialTTL
		username := fmt.Sprintf("%d:%s", expiry, device)

		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write([]byte(username))
		password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		c.JSON(http.StatusOK, rtc.TURNCredential{
			URLs:       turnURLs,
			Username:   username,
			Credential: password,
			TTL:        turnCredentialTTL,
		})
	}
}

// SetupRouter builds the relay's HTTP surface: the signaling websocket, the
// TURN credential endpoint and metrics.
func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PairlineSessions", store))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", AuthMiddleware(cfg.Credential))

	api.GET("/turn-credentials", turnCredentials(cfg.Secret, cfg.TURNServers))

	api.GET("/ws/signal", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay.server").Msg("upgrade")
			return
		}
		hub.Handle(ctx, ws)
	})

	log.Info().Str("module", "relay.server").Msg("router setup")
	return r
}
