package api

import (
	"encoding/json"
	"net/http"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// StatusFor 把失败分类映射为 HTTP 状态码；未分类一律 500。
func StatusFor(k domain.Kind) int {
	switch k {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindMirrorUnavailable, domain.KindBlocked, domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindNoMatch, domain.KindLinkNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var messages = map[domain.Kind]string{
	domain.KindInvalidRequest:      "At least a title or an ISBN is required for Libgen search.",
	domain.KindMirrorUnavailable:   "Libgen mirror currently unavailable. Please try again later.",
	domain.KindBlocked:             "Libgen mirror refused the request. Please try again later or pick another mirror.",
	domain.KindUpstreamUnavailable: "Libgen did not respond in time. Please try again later.",
	domain.KindParseError:          "Unexpected response from Libgen.",
	domain.KindNoMatch:             "Book not found on Libgen with the provided criteria.",
	domain.KindLinkNotFound:        "Book found on Libgen but no download link is available.",
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	msg, ok := messages[kind]
	if !ok {
		kind = "Internal"
		msg = "Error searching Libgen. Please try again later or refine your search."
	}
	writeError(w, StatusFor(kind), errorBody{Message: msg, Code: string(kind), Details: err.Error()})
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
