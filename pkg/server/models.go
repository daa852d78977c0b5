package server

import (
	"net/http"
	"strings"

	"github.com/Mouseww/grok2api-pro/pkg/openai"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

// catalogCreated is the created timestamp advertised for every model.
const catalogCreated = 1704067200

// modelCatalog is the caller-facing model listing. The sora names alias the
// upstream imagine generator.
var modelCatalog = []string{
	"grok-3",
	"grok-4",
	"grok-4-mini",
	video.ModelGrokImagine,
	video.ModelSora,
	video.ModelSoraPro,
}

// upstreamChatModel maps a caller-facing model name to the upstream one for
// conversation calls.
func upstreamChatModel(model string) string {
	switch model {
	case "", "gpt-3.5-turbo", "gpt-4", "gpt-4o":
		// Unknown OpenAI names fall through to the default chat model.
		return "grok-3"
	}
	return video.UpstreamModel(model)
}

// isImageModel reports whether the model produces images from chat turns.
func isImageModel(model string) bool {
	return strings.Contains(model, "imagine") || strings.HasPrefix(model, "sora")
}

// modelClass keys per-credential quota windows. Generation models are
// quota-limited separately from plain chat.
func modelClass(model string) string {
	if isImageModel(model) {
		return "imagine"
	}
	return "chat"
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	list := openai.ModelList{Object: "list"}
	for _, id := range modelCatalog {
		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: catalogCreated,
			OwnedBy: "grok",
		})
	}
	writeJSON(w, http.StatusOK, list)
}
