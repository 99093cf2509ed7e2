// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package r2

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/cloudflare/miniflare-tre/internal/clock"
	"github.com/cloudflare/miniflare-tre/internal/plugin"
	"github.com/cloudflare/miniflare-tre/internal/storage"
)

// MetadataSizeHeader gives the byte offset of the object payload within
// the request/response body, per spec §6 "Wire format for R2 PUT":
// body = <metadata-json-bytes> || <object-bytes>.
const MetadataSizeHeader = "CF-R2-Metadata-Size"

// Factory resolves a bucket name to its R2 gateway.
type Factory interface {
	Get(namespace string, desc storage.Descriptor, wrap func(storage.Store) interface{}) (interface{}, error)
}

// wireMeta is the metadata JSON that precedes the object body on the
// wire for PUT, and that the handler re-emits for GET/HEAD.
type wireMeta struct {
	HTTPMetadata   map[string]string `json:"httpMetadata,omitempty"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
	SHA256         string            `json:"sha256,omitempty"`
}

// NewRouter builds the R2 plugin's loopback router (spec §4.5).
//
//	HEAD   /:bucket/objects/:key
//	GET    /:bucket/objects/:key
//	PUT    /:bucket/objects/:key   (wire format above)
//	DELETE /:bucket/objects/:key
//	GET    /:bucket/objects        ("?prefix=&cursor=&delimiter=&limit=&start_after=")
func NewRouter(factory Factory, desc storage.Descriptor, clk clock.Clock) *plugin.Router {
	gatewayFor := func(bucket string) (*Gateway, error) {
		gw, err := factory.Get(bucket, desc, func(store storage.Store) interface{} {
			return NewGateway(store, clk)
		})
		if err != nil {
			return nil, err
		}
		return gw.(*Gateway), nil
	}

	r := plugin.NewRouter()

	r.Handle(http.MethodHead, "/:bucket/objects/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["bucket"])
		if err != nil {
			return renderR2Err(w, err)
		}
		obj, err := gw.Head(req.Context(), params["key"])
		if err != nil {
			return renderR2Err(w, err)
		}
		writeObjectHeaders(w, obj)
		return nil
	})

	r.Handle(http.MethodGet, "/:bucket/objects/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["bucket"])
		if err != nil {
			return renderR2Err(w, err)
		}
		obj, matched, err := gw.Get(req.Context(), params["key"], conditionalFromHeaders(req.Header))
		if err != nil {
			return renderR2Err(w, err)
		}
		writeObjectHeaders(w, obj)
		if !matched {
			w.WriteHeader(http.StatusPreconditionFailed)
			return nil
		}
		_, err = w.Write(obj.Body)
		return err
	})

	r.Handle(http.MethodPut, "/:bucket/objects/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["bucket"])
		if err != nil {
			return renderR2Err(w, err)
		}

		boundary, convErr := strconv.Atoi(req.Header.Get(MetadataSizeHeader))
		if convErr != nil {
			return renderR2Err(w, &httpErr{status: http.StatusBadRequest, env: NewErrorEnvelope(10000, "missing "+MetadataSizeHeader)})
		}
		body, err := io.ReadAll(req.Body)
		if err != nil || boundary > len(body) {
			return renderR2Err(w, &httpErr{status: http.StatusBadRequest, env: NewErrorEnvelope(10000, "malformed request body")})
		}

		var meta wireMeta
		if boundary > 0 {
			if err := json.Unmarshal(body[:boundary], &meta); err != nil {
				return renderR2Err(w, &httpErr{status: http.StatusBadRequest, env: NewErrorEnvelope(10000, "invalid metadata JSON")})
			}
		}

		opts := PutOptions{
			HTTPMetadata:   meta.HTTPMetadata,
			CustomMetadata: meta.CustomMetadata,
			SHA256:         meta.SHA256,
			Conditional:    conditionalFromHeaders(req.Header),
		}
		obj, err := gw.Put(req.Context(), params["key"], body[boundary:], opts)
		if err != nil {
			return renderR2Err(w, err)
		}
		writeObjectHeaders(w, obj)
		return nil
	})

	r.Handle(http.MethodDelete, "/:bucket/objects/:key", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["bucket"])
		if err != nil {
			return renderR2Err(w, err)
		}
		if err := gw.Delete(req.Context(), params["key"]); err != nil {
			return renderR2Err(w, err)
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})

	r.Handle(http.MethodGet, "/:bucket/objects", func(w http.ResponseWriter, req *http.Request, params map[string]string) error {
		gw, err := gatewayFor(params["bucket"])
		if err != nil {
			return renderR2Err(w, err)
		}
		q := req.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		result, err := gw.List(req.Context(), ListOptions{
			Prefix:     q.Get("prefix"),
			Cursor:     q.Get("cursor"),
			Delimiter:  q.Get("delimiter"),
			Limit:      limit,
			StartAfter: q.Get("start_after"),
		})
		if err != nil {
			return renderR2Err(w, err)
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(result)
	})

	return r
}

func conditionalFromHeaders(h http.Header) Conditional {
	c := Conditional{IfMatch: h.Get("If-Match"), IfNoneMatch: h.Get("If-None-Match")}
	if v := h.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfModifiedSince = &t
		}
	}
	if v := h.Get("If-Unmodified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			c.IfUnmodifiedSince = &t
		}
	}
	return c
}

func writeObjectHeaders(w http.ResponseWriter, obj *Object) {
	w.Header().Set("ETag", obj.Meta.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Meta.Size, 10))
	w.Header().Set("Last-Modified", obj.Meta.Uploaded.Format(time.RFC1123))
	metaJSON, err := json.Marshal(wireMeta{
		HTTPMetadata:   obj.Meta.HTTPMetadata,
		CustomMetadata: obj.Meta.CustomMetadata,
		SHA256:         obj.Meta.SHA256,
	})
	if err == nil {
		w.Header().Set("CF-R2-Object-Metadata", string(metaJSON))
	}
}

// renderR2Err renders err as R2's version-1 JSON error envelope (spec
// §4.5: "Errors are encoded as JSON envelopes with a version-1 schema
// and a response header carrying the metadata size").
func renderR2Err(w http.ResponseWriter, err error) error {
	status, env, ok := Status(err)
	if !ok {
		return err
	}
	body, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return marshalErr
	}
	w.Header().Set(MetadataSizeHeader, strconv.Itoa(len(body)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, writeErr := w.Write(body)
	return writeErr
}
