// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package loopback

import (
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/logging"
)

// errorEnvelope is the JSON body the worker-runtime posts to /core/error.
type errorEnvelope struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Cause   string `json:"cause"`
}

// nativeErrorClasses is the closed allow-list of subclasses the envelope's
// Name may select; anything else falls back to the base class.
var nativeErrorClasses = map[string]bool{
	"EvalError":      true,
	"RangeError":     true,
	"ReferenceError": true,
	"SyntaxError":    true,
	"TypeError":      true,
	"URIError":       true,
}

// SourceMapRetriever resolves a stack frame's original source location.
// The host supplies an implementation that knows how to read a worker
// script's accompanying source map; a nil retriever leaves stacks
// unmapped.
type SourceMapRetriever interface {
	Resolve(stack string) string
}

var errorPageTemplate = template.Must(template.New("core-error").Parse(`<!DOCTYPE html>
<html>
<head><title>Worker threw exception</title></head>
<body>
<h1>{{.Class}}: {{.Message}}</h1>
<pre>{{.Stack}}</pre>
{{if .Cause}}<h2>Caused by</h2><pre>{{.Cause}}</pre>{{end}}
</body>
</html>
`))

type errorPageData struct {
	Class   string
	Message string
	Stack   string
	Cause   string
}

// handleCoreError consumes the posted error envelope, rebuilds a native
// error classification from the allow-list, optionally source-maps the
// stack, and renders an HTML error page (spec §4.2).
func (s *Server) handleCoreError(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read error body", http.StatusBadRequest)
		return
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid error envelope", http.StatusBadRequest)
		return
	}

	class := env.Name
	if !nativeErrorClasses[class] {
		class = "Error"
	}

	stack := env.Stack
	if s.sourceMaps != nil {
		stack = s.sourceMaps.Resolve(stack)
	}

	logging.Error().Str("class", class).Str("message", env.Message).Msg("worker threw exception")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	data := errorPageData{Class: class, Message: env.Message, Stack: stack, Cause: env.Cause}
	if execErr := errorPageTemplate.Execute(w, data); execErr != nil {
		fmt.Fprintf(w, "%s: %s\n%s", class, env.Message, stack)
	}
}
