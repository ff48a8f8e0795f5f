package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// VerifySignatureRequest carries one online signature verification attempt.
type VerifySignatureRequest struct {
	ActivationID   string
	ApplicationKey string

	// Data is the canonical request data the client signed.
	Data []byte

	Signature     string
	SignatureType crypto.SignatureType

	// ForcedSignatureVersion overrides the activation's pinned protocol
	// version for this computation only. Used mid-upgrade by version 2
	// clients that already hold ctrData.
	ForcedSignatureVersion *int
}

// VerifySignatureResponse reports the verification outcome. A negative
// verification is a regular result, not an error; the response deliberately
// reveals nothing beyond these coarse fields.
type VerifySignatureResponse struct {
	SignatureValid    bool
	ActivationID      string
	ActivationStatus  model.ActivationStatus
	BlockedReason     string
	UserID            string
	ApplicationID     uint
	SignatureType     crypto.SignatureType
	RemainingAttempts uint32
}

// VerifySignature verifies a PowerAuth signature against the stored counter
// and the lookahead window. The whole read-compute-write runs under the
// activation row lock: acceptance moves the counter to the matched value plus
// one and resets failed attempts; rejection advances the counter by exactly
// one, increments failed attempts and blocks the activation in the same
// transaction when the limit is reached. Every attempt lands in the audit log
// atomically with the counter update.
func (s *Service) VerifySignature(ctx context.Context, req VerifySignatureRequest) (*VerifySignatureResponse, error) {
	started := time.Now()
	if !req.SignatureType.Valid() {
		return nil, fmt.Errorf("%w: %q", crypto.ErrUnknownSignatureType, req.SignatureType)
	}
	if req.Signature == "" {
		return nil, fmt.Errorf("%w: missing signature", model.ErrInvalidInput)
	}

	version, err := s.store.GetApplicationVersionByKey(ctx, req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	applicationSecret, err := base64.StdEncoding.DecodeString(version.ApplicationSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: application secret unreadable", model.ErrConfig)
	}

	var (
		resp    *VerifySignatureResponse
		blocked bool
	)
	err = s.store.WithActivationForUpdate(ctx, req.ActivationID, func(tx *gorm.DB, a *model.Activation) error {
		resp = &VerifySignatureResponse{
			ActivationID:     a.ActivationID,
			ActivationStatus: a.ActivationStatus,
			UserID:           a.UserID,
			ApplicationID:    a.ApplicationID,
			SignatureType:    req.SignatureType,
		}
		if a.BlockedReason != nil {
			resp.BlockedReason = *a.BlockedReason
		}

		if a.ActivationStatus != model.StatusActive || !version.Supported {
			return s.auditAttempt(ctx, tx, a, req, false, "activation not usable")
		}

		keys, err := s.keyFamilyFor(a)
		if err != nil {
			return err
		}
		defer keys.Destroy()
		factorKeys, err := req.SignatureType.FactorKeys(keys)
		if err != nil {
			return err
		}

		signatureVersion := a.Version
		if req.ForcedSignatureVersion != nil {
			signatureVersion = *req.ForcedSignatureVersion
		}

		matched, matchedCtrData, err := s.searchCounterWindow(a, signatureVersion, req, applicationSecret, factorKeys)
		if err != nil {
			return err
		}

		now := s.now()
		a.TimestampLastUsed = now
		if matched >= 0 {
			a.Counter = a.Counter + uint64(matched) + 1
			if signatureVersion == 3 && matchedCtrData != nil {
				next := encodeBase64(crypto.NextCtrData(matchedCtrData))
				a.CtrData = &next
			}
			a.FailedAttempts = 0
			resp.SignatureValid = true
			resp.RemainingAttempts = a.MaxFailedAttempts
			return s.auditAttempt(ctx, tx, a, req, true, "")
		}

		// no match in the window: burn exactly one counter value
		a.Counter++
		if a.Version == 3 && a.CtrData != nil {
			current, decodeErr := base64.StdEncoding.DecodeString(*a.CtrData)
			if decodeErr != nil {
				return fmt.Errorf("%w: stored ctrData is corrupted", model.ErrCryptoFailure)
			}
			next := encodeBase64(crypto.NextCtrData(current))
			a.CtrData = &next
		}
		a.FailedAttempts++
		if a.FailedAttempts >= a.MaxFailedAttempts {
			blocked = true
			reason := model.BlockedReasonMaxFailedAttempts
			a.BlockedReason = &reason
			if err := s.transition(ctx, tx, a, model.StatusBlocked, nil); err != nil {
				return err
			}
			resp.ActivationStatus = model.StatusBlocked
			resp.BlockedReason = reason
		}
		if a.MaxFailedAttempts > a.FailedAttempts {
			resp.RemainingAttempts = a.MaxFailedAttempts - a.FailedAttempts
		}
		return s.auditAttempt(ctx, tx, a, req, false, "signature mismatch")
	})
	if err != nil {
		return nil, err
	}

	if blocked {
		s.notifyTransition(resp.ApplicationID, req.ActivationID, model.StatusBlocked)
	}
	s.metrics.RecordSignatureVerification(string(req.SignatureType), resp.SignatureValid, time.Since(started))
	return resp, nil
}

// searchCounterWindow recomputes the expected signature for the stored
// counter value and the next lookahead values. It returns the zero-based
// offset of the match, or -1, plus the raw ctrData at the match for version 3.
func (s *Service) searchCounterWindow(a *model.Activation, signatureVersion int, req VerifySignatureRequest, applicationSecret []byte, factorKeys [][]byte) (int, []byte, error) {
	var ctrData []byte
	if signatureVersion == 3 {
		if a.CtrData == nil {
			return -1, nil, fmt.Errorf("%w: activation has no ctrData", model.ErrCryptoFailure)
		}
		var err error
		ctrData, err = base64.StdEncoding.DecodeString(*a.CtrData)
		if err != nil {
			return -1, nil, fmt.Errorf("%w: stored ctrData is corrupted", model.ErrCryptoFailure)
		}
	}

	for offset := 0; offset <= s.config.SignatureValidationLookahead; offset++ {
		var ctrBytes []byte
		if signatureVersion == 3 {
			ctrBytes = ctrData
		} else {
			ctrBytes = crypto.CounterBytesV2(a.Counter + uint64(offset))
		}

		base := crypto.SignatureBase(req.Data, ctrBytes, applicationSecret)
		expected := crypto.ComputeSignature(base, factorKeys)
		if crypto.VerifySignatureString(expected, req.Signature) {
			return offset, ctrData, nil
		}

		if signatureVersion == 3 {
			ctrData = crypto.NextCtrData(ctrData)
		}
	}
	return -1, nil, nil
}

// auditAttempt appends the signature audit entry inside the transaction that
// carries the counter update.
func (s *Service) auditAttempt(ctx context.Context, tx *gorm.DB, a *model.Activation, req VerifySignatureRequest, valid bool, note string) error {
	fingerprint := sha256.Sum256(req.Data)
	return s.store.AppendSignatureAudit(ctx, tx, &model.SignatureAudit{
		ActivationID:     a.ActivationID,
		ApplicationID:    a.ApplicationID,
		UserID:           a.UserID,
		SignatureType:    string(req.SignatureType),
		DataFingerprint:  encodeBase64(fingerprint[:]),
		Valid:            valid,
		Note:             note,
		Counter:          a.Counter,
		ActivationStatus: string(a.ActivationStatus),
		TimestampCreated: s.now(),
	})
}

// VerifyECDSASignature checks a device-side ECDSA signature over arbitrary
// data against the activation's device public key. Independent of the counter
// machinery; used for out-of-band operation approvals.
func (s *Service) VerifyECDSASignature(ctx context.Context, activationID string, data, signature []byte) (bool, error) {
	a, err := s.store.GetActivation(ctx, activationID)
	if err != nil {
		return false, err
	}
	if a.ActivationStatus != model.StatusActive || a.DevicePublicKey == nil {
		return false, nil
	}
	deviceKey, err := base64.StdEncoding.DecodeString(*a.DevicePublicKey)
	if err != nil {
		return false, fmt.Errorf("%w: stored device public key is corrupted", model.ErrCryptoFailure)
	}
	valid, err := crypto.VerifyData(data, signature, deviceKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	return valid, nil
}
