// Command levinserver is a runnable demonstration server: it wires a
// Router, the standard middleware set, and the Application/Server pair
// into a listening process, replacing the teacher's client-side demo
// binaries with a server-side one that exercises the levin pipeline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/krukov/levin/pkg/levin"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/middleware"
	"github.com/krukov/levin/pkg/router"
	"github.com/krukov/levin/pkg/server"
	"github.com/krukov/levin/pkg/tlsconfig"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	certFile := flag.String("cert", "", "TLS certificate file (enables TLS/h2 if set)")
	keyFile := flag.String("key", "", "TLS key file")
	templatesDir := flag.String("templates", "", "directory of *.html templates for TemplateFormat")
	flag.Parse()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zlog.Sync()

	r := buildRouter()
	app := levin.New(r.Handle)

	app.Add(middleware.NewErrorHandle(nil), -1)
	app.Add(middleware.NewTimeLimit(10*time.Second), -1)
	app.Add(middleware.NewPatchRequest(), -1)
	app.Add(middleware.NewSyncToAsync(50), -1)
	app.Add(middleware.NewRunProcess(0), -1)
	app.Add(middleware.NewPush(), -1)
	app.Add(middleware.NewJsonFormat(), -1)
	app.Add(middleware.NewTextFormat(), -1)

	var templateDirs []string
	if *templatesDir != "" {
		templateDirs = []string{*templatesDir}
	}
	app.Add(middleware.NewTemplateFormat(templateDirs, []string{".html"}), -1)

	app.Add(middleware.NewInjectFromScope(), -1)
	app.Add(middleware.NewProfile(100*time.Millisecond, zlog), -1)
	app.Add(middleware.NewLogger(zlog), -1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		zlog.Fatal("starting application", zap.Error(err))
	}

	srv := &server.Server{
		Addr:    *addr,
		Handler: app.Handle,
		Log:     zlog,
	}

	if *certFile != "" && *keyFile != "" {
		tlsCfg, err := tlsconfig.BuildServerConfig(tlsconfig.ServerOptions{
			CertFile: *certFile,
			KeyFile:  *keyFile,
		})
		if err != nil {
			zlog.Fatal("building TLS config", zap.Error(err))
		}
		srv.TLSConfig = tlsCfg
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("listening", zap.String("addr", *addr), zap.Bool("tls", srv.TLSConfig != nil))
	go func() {
		if err := srv.ListenAndServe(sigCtx); err != nil {
			zlog.Error("server stopped", zap.Error(err))
		}
	}()

	<-sigCtx.Done()
	zlog.Info("shutting down")
	srv.Shutdown()
	app.Stop(context.Background())
}

// buildRouter registers a handful of demo routes exercising each
// formatter and the push middleware, in the teacher's style of a small
// hand-wired route table rather than a generated one.
func buildRouter() *router.Router {
	r := router.New(nil)

	r.Get("/", func(req *message.Request) (*message.Response, error) {
		return message.NewResponse(200, []byte("<html><head></head><body>LEVIN</body></html>"), nil), nil
	}, nil)

	r.Get("/api/status", func(req *message.Request) (*message.Response, error) {
		return message.NewRaw(map[string]any{"status": "ok"}), nil
	}, nil)

	r.Get("/user/{id}", func(req *message.Request) (*message.Response, error) {
		id, _ := req.Get("id").([]byte)
		return message.NewRaw(map[string]any{"id": string(id)}), nil
	}, map[string]any{"name": "user"})

	r.Get("/slow", func(req *message.Request) (*message.Response, error) {
		req.Set("sync", true)
		time.Sleep(50 * time.Millisecond)
		return message.NewRaw("done"), nil
	}, nil)

	r.Get("/page", func(req *message.Request) (*message.Response, error) {
		return message.NewRaw(message.Template{Path: "page.html", Context: map[string]any{"title": "levin"}}), nil
	}, map[string]any{"push": "/api/status"})

	return r
}
