package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/storage"
	"github.com/example/profile-provisioning/internal/util"
)

var bloodTypes = map[string]bool{
	"A+": true, "A-": true,
	"B+": true, "B-": true,
	"AB+": true, "AB-": true,
	"O+": true, "O-": true,
}

// ProfileHandler finalizes a paid profile: activation, QR image, cache
// refresh and the confirmation email, in that order. Every mutating step is
// guarded by prior state so a re-delivered job (same correlation id) skips
// work an earlier attempt already finished, including attempts that timed
// out from the processor's point of view but completed in the background.
type ProfileHandler struct {
	deps Dependencies
	log  zerolog.Logger
}

// NewProfileHandler constructs the ProcessProfile handler.
func NewProfileHandler(deps Dependencies) *ProfileHandler {
	return &ProfileHandler{
		deps: deps,
		log:  deps.Logger.With().Str("handler", "process-profile").Logger(),
	}
}

func (h *ProfileHandler) JobType() jobs.JobType {
	return jobs.TypeProcessProfile
}

// Validate requires a profile id, a deliverable user email and a resolved
// blood type: a profile without one must never go active.
func (h *ProfileHandler) Validate(env *jobs.Envelope) error {
	payload, err := decodeProfilePayload(env)
	if err != nil {
		return err
	}
	if payload.ProfileID == "" {
		return errors.New("profile payload is missing profileId")
	}
	if _, err := util.NormalizeEmail(payload.UserEmail); err != nil {
		return fmt.Errorf("profile payload userEmail: %w", err)
	}
	if !bloodTypes[payload.BloodType] {
		return fmt.Errorf("profile payload bloodType %q is not resolved", payload.BloodType)
	}
	return nil
}

func (h *ProfileHandler) Execute(ctx context.Context, pctx *processor.ProcessingContext, env *jobs.Envelope) (any, error) {
	payload, err := decodeProfilePayload(env)
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
	data := doc.Data

	log := h.log.With().
		Str("profile_id", payload.ProfileID).
		Str("correlation_id", pctx.CorrelationID).
		Logger()

	activated := false
	if data["status"] != storage.ProfileStatusActive {
		update := map[string]any{
			"status":      storage.ProfileStatusActive,
			"activatedAt": h.deps.Now().UTC(),
			"paymentId":   payload.Payment.PaymentID,
			"bloodType":   payload.BloodType,
		}
		if payload.FullName != "" {
			update["fullName"] = payload.FullName
		}
		if err := h.deps.Store.Update(ctx, storage.CollectionProfiles, payload.ProfileID, update); err != nil {
			return nil, processor.WrapTransient(err)
		}
		for key, value := range update {
			data[key] = value
		}
		activated = true
		log.Info().Msg("profile activated")
	} else {
		log.Info().Msg("profile already active, skipping activation")
	}

	qrURL, _ := data["qrCodeUrl"].(string)
	if qrURL == "" {
		target := profileViewURL(h.deps.PublicBaseURL, payload.ProfileID)
		qrURL, err = h.deps.QR.DataURL(target)
		if err != nil {
			return nil, fmt.Errorf("generate qr for profile %s: %w", payload.ProfileID, err)
		}
		if err := h.deps.Store.Update(ctx, storage.CollectionProfiles, payload.ProfileID, map[string]any{"qrCodeUrl": qrURL}); err != nil {
			return nil, processor.WrapTransient(err)
		}
		data["qrCodeUrl"] = qrURL
	}

	// Cache refresh is best-effort; the document store stays the source of
	// truth when it fails.
	if err := refreshProfileCache(ctx, h.deps, doc.ID, data); err != nil {
		log.Warn().Err(err).Msg("profile cache refresh failed")
	}

	emailSent := false
	if _, alreadySent := data["confirmationSentAt"]; !alreadySent {
		receipt, err := h.deps.Email.Send(ctx, confirmationEmail(payload, qrURL))
		if err != nil {
			return nil, fmt.Errorf("send confirmation for profile %s: %w", payload.ProfileID, err)
		}
		update := map[string]any{
			"confirmationSentAt":    h.deps.Now().UTC(),
			"confirmationMessageId": receipt.MessageID,
		}
		if err := h.deps.Store.Update(ctx, storage.CollectionProfiles, payload.ProfileID, update); err != nil {
			return nil, processor.WrapTransient(err)
		}
		emailSent = true
		log.Info().Str("message_id", receipt.MessageID).Msg("confirmation email sent")
	} else {
		log.Info().Msg("confirmation already sent, skipping email")
	}

	return map[string]any{
		"profileId": payload.ProfileID,
		"activated": activated,
		"emailSent": emailSent,
	}, nil
}

func decodeProfilePayload(env *jobs.Envelope) (*jobs.ProfilePayload, error) {
	decoded, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	payload, ok := decoded.(*jobs.ProfilePayload)
	if !ok {
		return nil, fmt.Errorf("expected profile payload, got %T", decoded)
	}
	return payload, nil
}

func profileViewURL(baseURL, profileID string) string {
	return fmt.Sprintf("%s/p/%s", baseURL, profileID)
}

func refreshProfileCache(ctx context.Context, deps Dependencies, profileID string, data map[string]any) error {
	summary := map[string]any{
		"profileId": profileID,
		"status":    data["status"],
		"fullName":  data["fullName"],
		"bloodType": data["bloodType"],
		"qrCodeUrl": data["qrCodeUrl"],
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return deps.Cache.Set(ctx, cache.ProfileKey(profileID), string(encoded), deps.CacheTTL)
}
