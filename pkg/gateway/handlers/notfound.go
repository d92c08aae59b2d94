package handlers

import (
	"net/http"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierror.WriteStatus(w, http.StatusNotFound, "Not Found")
}
