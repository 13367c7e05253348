// sitechat devserver - a local stand-in for the site's chat endpoint.
//
// Serves the same wire protocol the sitechat client speaks: a JSON POST
// answered with an SSE stream of data: chunks ending in [DONE]. Without an
// OPENAI_API_KEY it echoes a canned reply, which is enough to exercise the
// client end to end; with a key it proxies to an OpenAI-compatible API.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		addr    = flag.String("addr", ":8787", "listen address")
		echo    = flag.Bool("echo", false, "force echo mode even when OPENAI_API_KEY is set")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logrus.SetLevel(logrus.InfoLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	responder := newResponder(*echo)
	router := setupRouter(newChatHandler(responder))

	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", *addr).Info("devserver listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("devserver failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("devserver shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("shutdown failed")
	}
}

// newResponder picks the reply backend from the environment.
func newResponder(forceEcho bool) Responder {
	key := os.Getenv("OPENAI_API_KEY")
	if forceEcho || key == "" {
		logrus.Info("echo mode; set OPENAI_API_KEY to proxy a real model")
		return NewEchoResponder()
	}
	return NewOpenAIResponder(key, os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_MODEL"))
}

// setupRouter builds the gin engine with middleware and routes.
func setupRouter(h *chatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"POST", "GET", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Accept", "Cache-Control"},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Unix()})
	})

	api := router.Group("/api")
	{
		api.POST("/chat", h.rateLimit(), h.StreamChat)
	}

	return router
}

// requestLogger logs each request through logrus with timing.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		}).Debug("request")
	}
}
