package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Run a local echo server for tunnel demos",
	Long: `Run a small HTTP service that answers every request with a JSON echo of
the method, path, query, headers, and body. Useful as the local target
for end-to-end tunnel demos:

  burrow echo --port 8000
  burrow connect --port 8000`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		addr := fmt.Sprintf("localhost:%d", port)

		logger.Info("Echo server listening on http://%s", addr)
		if err := newEchoRouter().Run(addr); err != nil {
			logger.Error("Echo server failed: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	echoCmd.Flags().IntP("port", "p", 8000, "Port to listen on")
}

func newEchoRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.NoRoute(echoHandler)
	return router
}

// echoHandler reflects the request back as JSON. Binary bodies are
// echoed base64-encoded so the payload always survives JSON transport.
func echoHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read body"})
		return
	}

	query := make(map[string]string)
	for key, vals := range c.Request.URL.Query() {
		if len(vals) > 0 {
			query[key] = vals[len(vals)-1]
		}
	}
	headers := make(map[string]string)
	for key, vals := range c.Request.Header {
		if len(vals) > 0 {
			headers[key] = vals[len(vals)-1]
		}
	}

	response := gin.H{
		"message":   "Hello from echo server!",
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"query":     query,
		"headers":   headers,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if len(body) > 0 {
		if utf8.Valid(body) {
			response["body"] = string(body)
		} else {
			response["body_base64"] = base64.StdEncoding.EncodeToString(body)
		}
	}

	c.JSON(http.StatusOK, response)
}
