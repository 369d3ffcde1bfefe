package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/storage"
)

// QRCodeHandler regenerates the QR image for a profile and stores the data
// URL on the profile document. Stale cache entries are invalidated rather
// than rewritten; the next read repopulates them.
type QRCodeHandler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewQRCodeHandler constructs the GenerateQRCode handler.
func NewQRCodeHandler(deps Dependencies) *QRCodeHandler {
	return &QRCodeHandler{
		deps: deps,
		log:  deps.Logger.With().Str("handler", "generate-qr-code").Logger(),
	}
}

func (h *QRCodeHandler) JobType() jobs.JobType {
	return jobs.TypeGenerateQRCode
}

func (h *QRCodeHandler) Validate(env *jobs.Envelope) error {
	payload, err := decodeQRCodePayload(env)
	if err != nil {
		return err
	}
	if payload.ProfileID == "" {
		return errors.New("qr payload is missing profileId")
	}
	return nil
}

func (h *QRCodeHandler) Execute(ctx context.Context, pctx *processor.ProcessingContext, env *jobs.Envelope) (any, error) {
	payload, err := decodeQRCodePayload(env)
	if err != nil {
		return nil, processor.WrapValidation(err)
	}

	if _, err := h.deps.Store.Get(ctx, storage.CollectionProfiles, payload.ProfileID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, processor.WrapPermanent(fmt.Errorf("profile %s does not exist", payload.ProfileID))
		}
		return nil, processor.WrapTransient(err)
	}

	target := payload.TargetURL
	if target == "" {
		target = profileViewURL(h.deps.PublicBaseURL, payload.ProfileID)
	}

	dataURL, err := h.deps.QR.DataURL(target)
	if err != nil {
		return nil, fmt.Errorf("generate qr for profile %s: %w", payload.ProfileID, err)
	}

	if err := h.deps.Store.Update(ctx, storage.CollectionProfiles, payload.ProfileID, map[string]any{"qrCodeUrl": dataURL}); err != nil {
		return nil, processor.WrapTransient(err)
	}

	if err := h.deps.Cache.Invalidate(ctx, cache.ProfileKey(payload.ProfileID)); err != nil {
		h.log.Warn().Err(err).Str("profile_id", payload.ProfileID).Msg("cache invalidation failed")
	}

	h.log.Info().
		Str("profile_id", payload.ProfileID).
		Str("correlation_id", pctx.CorrelationID).
		Msg("qr code regenerated")

	return map[string]any{"profileId": payload.ProfileID, "targetUrl": target}, nil
}

func decodeQRCodePayload(env *jobs.Envelope) (*jobs.QRCodePayload, error) {
	decoded, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*jobs.QRCodePayload)
	if !ok {
		return nil, fmt.Errorf("expected qr payload, got %T", decoded)
	}
	return payload, nil
}
