package server

import (
	"context"
	"net"
	"net/http"

	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"
)

// ListenAndServeQuery runs the fasthttp server for the hot POST
// /query/<lane>/seeded/binary path, grounded on multiepoch.go's
// ListenAndServe (context-driven graceful shutdown), on a plain TCP
// listener rather than a reuseport one.
func (s *Server) ListenAndServeQuery(ctx context.Context, listenOn string) error {
	handler := fasthttp.CompressHandler(s.QueryHandler())
	fs := &fasthttp.Server{
		Handler:            handler,
		MaxRequestBodySize: queryMaxBodyBytes,
	}
	go func() {
		<-ctx.Done()
		klog.Info("server: query listener shutting down...")
		if err := fs.Shutdown(); err != nil {
			klog.Errorf("server: query listener shutdown: %v", err)
		}
	}()
	klog.Infof("server: query endpoint listening on %s", listenOn)
	ln, err := net.Listen("tcp4", listenOn)
	if err != nil {
		return err
	}
	return fs.Serve(ln)
}

// ListenAndServeStatic runs the net/http server for every byte-range/JSON
// endpoint plus the /ws/deltas upgrade.
func (s *Server) ListenAndServeStatic(ctx context.Context, listenOn string) error {
	hs := &http.Server{
		Addr:    listenOn,
		Handler: s.Mux(),
	}
	go func() {
		<-ctx.Done()
		klog.Info("server: static listener shutting down...")
		if err := hs.Shutdown(context.Background()); err != nil {
			klog.Errorf("server: static listener shutdown: %v", err)
		}
	}()
	klog.Infof("server: static endpoints listening on %s", listenOn)
	err := hs.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
