package fhir

import (
	"net/http"
	"strings"
)

// Interaction names a FHIR RESTful interaction.
type Interaction string

const (
	InteractionRead   Interaction = "read"
	InteractionSearch Interaction = "search"
	InteractionCreate Interaction = "create"
	InteractionUpdate Interaction = "update"
	InteractionDelete Interaction = "delete"
)

// InteractionFor derives the interaction from the request method and the
// route parameters. It returns "" for combinations that are not served.
func InteractionFor(method, id, path string) Interaction {
	if strings.HasSuffix(path, "/_search") {
		if method == http.MethodPost {
			return InteractionSearch
		}
		return ""
	}
	switch method {
	case http.MethodGet:
		if id == "" {
			return InteractionSearch
		}
		return InteractionRead
	case http.MethodPost:
		if id == "" {
			return InteractionCreate
		}
	case http.MethodPut:
		if id != "" {
			return InteractionUpdate
		}
	case http.MethodDelete:
		if id != "" {
			return InteractionDelete
		}
	}
	return ""
}

// IsWrite reports whether the interaction modifies data.
func (i Interaction) IsWrite() bool {
	return i == InteractionCreate || i == InteractionUpdate || i == InteractionDelete
}
