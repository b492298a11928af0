//go:build !windows

package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/api/handlers"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the instance registry over REST and WebSocket",
	Long: `Serve starts a long-lived registry host. Instances survive client
detach; attach, spawn, kill, and resize are exposed over HTTP and
WebSocket.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.DBPath, cfg.HistoryLimit)
	if err != nil {
		return err
	}
	defer hist.Close()

	registry := session.NewManager(session.Config{
		BufferCap: cfg.BufferSize,
		LogDir:    cfg.LogDir,
		History:   hist,
	})

	r := gin.Default()
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		handlers.NewInstanceHandler(registry, cfg, hist).RegisterRoutes(api)
		handlers.NewWebSocketHandler(registry).RegisterRoutes(api)
	}

	// Graceful shutdown: no instance outlives the host unreaped.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		registry.TerminateAll()
		hist.Close()
		os.Exit(0)
	}()

	log.Printf("Starting server on %s", cfg.Server.Addr)
	return r.Run(cfg.Server.Addr)
}

// corsMiddleware allows cross-origin requests during development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
