package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/storage"
)

// CacheHandler refreshes the cached profile summary from the document store.
// A cache write failure completes the job anyway: the cache is a read
// accelerator, not a correctness dependency.
type CacheHandler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewCacheHandler constructs the UpdateCache handler.
func NewCacheHandler(deps Dependencies) *CacheHandler {
	return &CacheHandler{
		deps: deps,
		log:  deps.Logger.With().Str("handler", "update-cache").Logger(),
	}
}

func (h *CacheHandler) JobType() jobs.JobType {
	return jobs.TypeUpdateCache
}

func (h *CacheHandler) Validate(env *jobs.Envelope) error {
	payload, err := decodeCachePayload(env)
	if err != nil {
		return err
	}
	if payload.ProfileID == "" {
		return errors.New("cache payload is missing profileId")
	}
	return nil
}

func (h *CacheHandler) Execute(ctx context.Context, pctx *processor.ProcessingContext, env *jobs.Envelope) (any, error) {
	payload, err := decodeCachePayload(env)
	if err != nil {
		return nil, processor.WrapValidation(err)
	}

	doc, err := h.deps.Store.Get(ctx, storage.CollectionProfiles, payload.ProfileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, processor.WrapPermanent(fmt.Errorf("profile %s does not exist", payload.ProfileID))
	}
	if err != nil {
		return nil, processor.WrapTransient(err)
	}

	cached := true
	if err := refreshProfileCache(ctx, h.deps, doc.ID, doc.Data); err != nil {
		cached = false
		h.log.Warn().
			Err(err).
			Str("profile_id", payload.ProfileID).
			Str("correlation_id", pctx.CorrelationID).
			Msg("profile cache refresh failed")
	}

	return map[string]any{"profileId": payload.ProfileID, "cached": cached}, nil
}

func decodeCachePayload(env *jobs.Envelope) (*jobs.CachePayload, error) {
	decoded, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*jobs.CachePayload)
	if !ok {
		return nil, fmt.Errorf("expected cache payload, got %T", decoded)
	}
	return payload, nil
}
