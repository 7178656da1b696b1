package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/internal/document/service"
)

const CollectionPath = "/_api/collection"

func RegisterCollectionRoutes(r gin.IRouter, svc service.Service) {
	h := &collections{svc: svc}
	r.POST(CollectionPath, h.create)
	r.GET(CollectionPath, h.list)
	r.GET(CollectionPath+"/:collection", h.get)
	r.GET(CollectionPath+"/:collection/count", h.count)
	r.DELETE(CollectionPath+"/:collection", h.drop)
}

type collections struct {
	svc service.Service
}

func collectionBody(ci *service.CollectionInfo) gin.H {
	return gin.H{
		"id":    ci.ID,
		"name":  ci.Name,
		"count": ci.Count,
		"error": false,
		"code":  http.StatusOK,
	}
}

func (h *collections) create(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, document.NewError(document.KindBodyMalformed, "invalid JSON: %v", err))
		return
	}
	ci, err := h.svc.CreateCollection(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, collectionBody(ci))
}

func (h *collections) list(c *gin.Context) {
	all, err := h.svc.ListCollections(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(all))
	for _, ci := range all {
		out = append(out, gin.H{"id": ci.ID, "name": ci.Name, "count": ci.Count})
	}
	c.JSON(http.StatusOK, gin.H{"collections": out, "error": false, "code": http.StatusOK})
}

func (h *collections) get(c *gin.Context) {
	ci, err := h.svc.GetCollection(c.Request.Context(), c.Param("collection"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, collectionBody(ci))
}

func (h *collections) count(c *gin.Context) {
	h.get(c)
}

func (h *collections) drop(c *gin.Context) {
	ci, err := h.svc.GetCollection(c.Request.Context(), c.Param("collection"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.DropCollection(c.Request.Context(), ci.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": ci.ID, "error": false, "code": http.StatusOK})
}
