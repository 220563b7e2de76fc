package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kaptinlin/jsonrepair"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

const (
	knownArtifactCacheSize = 4096
	artifactLookupRetries  = 3
	artifactLookupBackoff  = 100 * time.Millisecond
)

// ArtifactResolver extracts artifact references from terminal metadata and
// keeps a per-session memory of references already attached, so a re-reported
// artifact never produces a duplicate chip in later turns.
type ArtifactResolver struct {
	store  chat.ArtifactStore
	known  *lru.Cache[string, struct{}]
	logger logging.Logger
}

func NewArtifactResolver(store chat.ArtifactStore, logger logging.Logger) *ArtifactResolver {
	cache, _ := lru.New[string, struct{}](knownArtifactCacheSize)
	return &ArtifactResolver{store: store, known: cache, logger: logging.OrNop(logger)}
}

// Resolve extracts references from the structured function results and the
// legacy artifacts list, deduplicated by artifact id within the turn.
// Function results win over legacy entries for the same id.
func (r *ArtifactResolver) Resolve(meta *chat.TerminalMetadata) []chat.ArtifactReference {
	if meta == nil {
		return nil
	}
	var refs []chat.ArtifactReference
	seen := make(map[string]struct{})
	add := func(ref chat.ArtifactReference) {
		if ref.ArtifactID == "" {
			return
		}
		if _, dup := seen[ref.ArtifactID]; dup {
			return
		}
		seen[ref.ArtifactID] = struct{}{}
		refs = append(refs, ref)
	}

	for _, fr := range meta.FunctionResults {
		ref, ok := r.fromFunctionResult(fr)
		if ok {
			add(ref)
		}
	}
	for _, raw := range meta.Artifacts {
		add(legacyReference(raw))
	}
	return refs
}

// fromFunctionResult maps one recognized tool outcome to a reference.
// Unrecognized functions and unsuccessful outcomes yield nothing.
func (r *ArtifactResolver) fromFunctionResult(fr chat.FunctionResult) (chat.ArtifactReference, bool) {
	result, err := r.decodeResult(fr.Result)
	if err != nil {
		r.logger.Warn("artifact resolver: undecodable %s result: %v", fr.Function, err)
		return chat.ArtifactReference{}, false
	}
	if result == nil {
		return chat.ArtifactReference{}, false
	}
	if success, present := result["success"].(bool); present && !success {
		return chat.ArtifactReference{}, false
	}
	id := stringField(result, "artifact_id", "id")
	name := stringField(result, "artifact_name", "name", "title")

	switch fr.Function {
	case "create_form_artifact":
		if id == "" || result["form_schema"] == nil {
			return chat.ArtifactReference{}, false
		}
		return chat.ArtifactReference{
			ArtifactID:  id,
			Name:        orDefault(name, "Form"),
			Type:        chat.ArtifactForm,
			Created:     true,
			DisplayText: fmt.Sprintf("Created form: %s", orDefault(name, id)),
		}, true
	case "update_form_artifact":
		if id == "" {
			return chat.ArtifactReference{}, false
		}
		return chat.ArtifactReference{
			ArtifactID:  id,
			Name:        orDefault(name, "Form"),
			Type:        chat.ArtifactForm,
			DisplayText: fmt.Sprintf("Updated form: %s", orDefault(name, id)),
		}, true
	case "create_text_artifact":
		if id == "" || stringField(result, "content") == "" {
			return chat.ArtifactReference{}, false
		}
		return chat.ArtifactReference{
			ArtifactID:  id,
			Name:        orDefault(name, "Document"),
			Type:        chat.ArtifactText,
			Created:     true,
			DisplayText: fmt.Sprintf("Created document: %s", orDefault(name, id)),
		}, true
	case "generate_request_artifact":
		if id == "" {
			return chat.ArtifactReference{}, false
		}
		return chat.ArtifactReference{
			ArtifactID:  id,
			Name:        orDefault(name, "Request"),
			Type:        chat.ArtifactDocument,
			Created:     true,
			DisplayText: fmt.Sprintf("Generated request: %s", orDefault(name, id)),
		}, true
	}
	return chat.ArtifactReference{}, false
}

// decodeResult unmarshals a raw tool result, repairing truncated or
// malformed JSON before giving up.
func (r *ArtifactResolver) decodeResult(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err == nil {
		return result, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, err
	}
	return result, nil
}

// FilterKnown drops references already attached in this session and records
// the survivors as known.
func (r *ArtifactResolver) FilterKnown(sessionID string, refs []chat.ArtifactReference) []chat.ArtifactReference {
	var fresh []chat.ArtifactReference
	for _, ref := range refs {
		key := sessionID + "/" + ref.ArtifactID
		if _, dup := r.known.Get(key); dup {
			continue
		}
		r.known.Add(key, struct{}{})
		fresh = append(fresh, ref)
	}
	return fresh
}

// Lookup fetches the referenced artifact, retrying while server-side
// creation catches up with the stream's terminal metadata.
func (r *ArtifactResolver) Lookup(ctx context.Context, artifactID string) (*chat.Artifact, error) {
	if r.store == nil {
		return nil, nil
	}
	var lastErr error
	for attempt := 1; attempt <= artifactLookupRetries; attempt++ {
		artifact, err := r.store.Get(ctx, artifactID)
		if err == nil {
			return artifact, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * artifactLookupBackoff):
		}
	}
	return nil, lastErr
}

func legacyReference(raw map[string]any) chat.ArtifactReference {
	ref := chat.ArtifactReference{
		ArtifactID: stringField(raw, "artifact_id", "id"),
		Name:       stringField(raw, "artifact_name", "name", "title"),
	}
	switch stringField(raw, "artifact_type", "type") {
	case "form":
		ref.Type = chat.ArtifactForm
	case "text":
		ref.Type = chat.ArtifactText
	case "image":
		ref.Type = chat.ArtifactImage
	case "bid-view":
		ref.Type = chat.ArtifactBidView
	case "document", "":
		ref.Type = chat.ArtifactDocument
	default:
		ref.Type = chat.ArtifactOther
	}
	if ref.Name == "" {
		ref.Name = ref.ArtifactID
	}
	return ref
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
