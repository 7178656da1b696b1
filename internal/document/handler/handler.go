package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/internal/document/service"
	"github.com/gogotex/revdoc/pkg/logger"
)

// DocumentPath is the URL prefix of document handles.
const DocumentPath = "/_api/document"

// RegisterRoutes mounts the document and collection APIs on r.
func RegisterRoutes(r gin.IRouter, svc service.Service) {
	RegisterDocumentRoutes(r, svc)
	RegisterCollectionRoutes(r, svc)
}

func RegisterDocumentRoutes(r gin.IRouter, svc service.Service) {
	h := &documents{svc: svc}
	r.POST(DocumentPath, h.create)
	r.GET(DocumentPath, h.list)
	// a mutation or read without any handle
	r.PUT(DocumentPath, missingHandle)
	r.DELETE(DocumentPath, missingHandle)
	r.HEAD(DocumentPath, missingHandle)

	r.GET(DocumentPath+"/*handle", h.read)
	r.HEAD(DocumentPath+"/*handle", h.read)
	r.PUT(DocumentPath+"/*handle", h.update)
	r.DELETE(DocumentPath+"/*handle", h.remove)
}

type documents struct {
	svc service.Service
}

// writeError renders err. Anything that is not a *document.Error is an
// internal error.
func writeError(c *gin.Context, err error) {
	var de *document.Error
	if !errors.As(err, &de) {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		de = document.NewError(document.KindInternal, "%v", err)
	}
	body := gin.H{
		"error":        true,
		"code":         de.Code(),
		"errorNum":     de.Num(),
		"errorMessage": de.Error(),
	}
	if de.Kind == document.KindRevisionConflict && de.Current != nil {
		body[document.AttrID] = de.Current.Handle.String()
		body[document.AttrRev] = de.Current.Rev
		body[document.AttrKey] = de.Current.Handle.Key
	}
	if c.Request.Method == http.MethodHead {
		c.Status(de.Code())
		return
	}
	c.JSON(de.Code(), body)
}

func ack(rec *document.Record) gin.H {
	return gin.H{
		"error":          false,
		document.AttrID:  rec.Handle.String(),
		document.AttrRev: rec.Rev,
		document.AttrKey: rec.Handle.Key,
	}
}

func etag(rev string) string { return `"` + rev + `"` }

func location(h document.Handle) string { return DocumentPath + "/" + h.String() }

func missingHandle(c *gin.Context) {
	writeError(c, document.NewError(document.KindHandleMalformed, "expecting %s %s/<document-handle>", c.Request.Method, DocumentPath))
}

// handleParam strips the single leading slash gin leaves on a catch-all value.
func handleParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("handle"), "/")
}

// condition reads the expected revision and policy of a request.
func condition(c *gin.Context) document.Condition {
	if v := c.GetHeader("rev"); v != "" {
		logger.Debugf("ignoring rev request header %q on %s", v, c.Request.URL.Path)
	}
	return document.Condition{
		Revision: document.ExpectedRevision(c.GetHeader("If-Match"), c.Query("rev")),
		Policy:   c.Query("policy"),
	}
}

// jsonObject reads the request body as a JSON object.
func jsonObject(c *gin.Context) (map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, document.NewError(document.KindBodyMalformed, "cannot read body: %v", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, document.NewError(document.KindBodyMalformed, "invalid JSON: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, document.NewError(document.KindBodyMalformed, "expecting a JSON object as body")
	}
	return obj, nil
}

func (h *documents) create(c *gin.Context) {
	collection := c.Query("collection")
	if collection == "" {
		writeError(c, document.NewError(document.KindCollectionMissing, "no collection name specified"))
		return
	}
	body, err := jsonObject(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), collection, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", etag(rec.Rev))
	c.Header("Location", location(rec.Handle))
	c.JSON(http.StatusCreated, ack(rec))
}

func (h *documents) list(c *gin.Context) {
	handles, err := h.svc.List(c.Request.Context(), c.Query("collection"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]string, 0, len(handles))
	for _, hd := range handles {
		out = append(out, location(hd))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (h *documents) read(c *gin.Context) {
	// validate the policy before anything else, as for mutations
	pre, err := condition(c).Resolve()
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := h.svc.Resolve(c.Request.Context(), handleParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if inm := document.RevisionFromHeader(c.GetHeader("If-None-Match")); inm != "" && inm == rec.Rev {
		c.Header("ETag", etag(rec.Rev))
		c.Status(http.StatusNotModified)
		return
	}
	if err := pre.Check(rec); err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", etag(rec.Rev))
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	out := make(map[string]any, len(rec.Body)+3)
	for k, v := range rec.Body {
		out[k] = v
	}
	out[document.AttrID] = rec.Handle.String()
	out[document.AttrRev] = rec.Rev
	out[document.AttrKey] = rec.Handle.Key
	c.JSON(http.StatusOK, out)
}

func (h *documents) update(c *gin.Context) {
	cond := condition(c)
	if _, err := cond.Resolve(); err != nil {
		writeError(c, err)
		return
	}
	if _, err := document.ParseHandle(handleParam(c)); err != nil {
		writeError(c, err)
		return
	}
	body, err := jsonObject(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := h.svc.Update(c.Request.Context(), handleParam(c), body, cond)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack(rec))
}

func (h *documents) remove(c *gin.Context) {
	rec, err := h.svc.Delete(c.Request.Context(), handleParam(c), condition(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack(rec))
}
