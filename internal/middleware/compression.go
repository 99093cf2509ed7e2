// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package middleware

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// gzipResponseWriter wraps http.ResponseWriter to support gzip compression
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// gzipWriterPool pools gzip writers to reduce allocations
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

var brotliWriterPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriter(io.Discard)
	},
}

// Compression middleware negotiates a Content-Encoding from the request's
// Accept-Encoding header and compresses the response accordingly. gzip is
// preferred when offered (entry workers and browsers both send it, and it
// is the cheapest to decode for local development), then br, then
// deflate.
func Compression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept-Encoding")

		// Don't compress WebSocket connections
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		switch {
		case strings.Contains(accept, "gzip"):
			serveGzip(w, r, next)
		case strings.Contains(accept, "br"):
			serveBrotli(w, r, next)
		case strings.Contains(accept, "deflate"):
			serveDeflate(w, r, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func serveGzip(w http.ResponseWriter, r *http.Request, next http.Handler) {
	gz := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(gz)
	gz.Reset(w)
	defer func() {
		_ = gz.Close()
	}()

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Del("Content-Length")
	next.ServeHTTP(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
}

func serveBrotli(w http.ResponseWriter, r *http.Request, next http.Handler) {
	br := brotliWriterPool.Get().(*brotli.Writer)
	defer brotliWriterPool.Put(br)
	br.Reset(w)
	defer func() {
		_ = br.Close()
	}()

	w.Header().Set("Content-Encoding", "br")
	w.Header().Del("Content-Length")
	next.ServeHTTP(&gzipResponseWriter{Writer: br, ResponseWriter: w}, r)
}

func serveDeflate(w http.ResponseWriter, r *http.Request, next http.Handler) {
	fw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		next.ServeHTTP(w, r)
		return
	}
	defer func() {
		_ = fw.Close()
	}()

	w.Header().Set("Content-Encoding", "deflate")
	w.Header().Del("Content-Length")
	next.ServeHTTP(&gzipResponseWriter{Writer: fw, ResponseWriter: w}, r)
}
