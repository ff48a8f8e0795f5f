package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// activationPayloadV3 is the plaintext inside the version 3 request envelope.
type activationPayloadV3 struct {
	DevicePublicKey string `json:"devicePublicKey"`
	ActivationName  string `json:"activationName,omitempty"`
	Extras          string `json:"extras,omitempty"`
	ActivationOtp   string `json:"activationOtp,omitempty"`
}

// activationResponsePayloadV3 is the plaintext inside the version 3 response
// envelope.
type activationResponsePayloadV3 struct {
	ActivationID    string `json:"activationId"`
	ServerPublicKey string `json:"serverPublicKey"`
	CtrData         string `json:"ctrData"`
}

// PrepareActivationRequest completes version 3 key exchange. The envelope is
// sealed to the application master public key.
type PrepareActivationRequest struct {
	ActivationCode     string
	ApplicationKey     string
	EphemeralPublicKey string
	EncryptedData      string
	MAC                string
}

// PrepareActivationResponse carries the response envelope, sealed to the
// device public key just received.
type PrepareActivationResponse struct {
	ActivationID       string
	ActivationStatus   model.ActivationStatus
	EphemeralPublicKey string
	EncryptedData      string
	MAC                string
}

// PrepareActivation performs version 3 key exchange: it opens the request
// envelope with the master private key, records the device public key, seeds
// the hash-chain counter and moves the record to PENDING_COMMIT.
//
// Envelope or key failures on a located activation remove it and surface the
// generic expiration error, so a caller holding a stolen activation code
// learns nothing about why the exchange failed.
func (s *Service) PrepareActivation(ctx context.Context, req PrepareActivationRequest) (*PrepareActivationResponse, error) {
	if !crypto.ValidateActivationCode(req.ActivationCode) {
		return nil, fmt.Errorf("%w: malformed activation code", model.ErrInvalidInput)
	}
	version, err := s.store.GetApplicationVersionByKey(ctx, req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	if !version.Supported {
		return nil, model.ErrActivationExpired
	}

	ephemeralKey, err := decodeBase64("ephemeralPublicKey", req.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	encryptedData, err := decodeBase64("encryptedData", req.EncryptedData)
	if err != nil {
		return nil, err
	}
	mac, err := decodeBase64("mac", req.MAC)
	if err != nil {
		return nil, err
	}

	located, err := s.store.FindActivationByCode(ctx, version.ApplicationID, req.ActivationCode)
	if err != nil {
		return nil, err
	}

	var (
		applicationID uint
		removed       bool
		otpMismatch   bool
		resp          *PrepareActivationResponse
	)
	err = s.store.WithActivationForUpdate(ctx, located.ActivationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID

		if a.ActivationStatus != model.StatusCreated {
			return model.ErrInvalidActivationState
		}
		if a.Expired(s.now()) {
			removed = true
			return s.expireLocked(ctx, tx, a)
		}

		masterKeyPair, err := s.masterKeyPairFor(ctx, a)
		if err != nil {
			return err
		}
		masterPrivateKey, err := base64.StdEncoding.DecodeString(masterKeyPair.MasterKeyPrivate)
		if err != nil {
			return fmt.Errorf("%w: master private key unreadable", model.ErrConfig)
		}

		payloadBytes, err := crypto.DecryptEnvelope(masterPrivateKey, &crypto.Envelope{
			EphemeralPublicKey: ephemeralKey,
			EncryptedData:      encryptedData,
			MAC:                mac,
		})
		if err != nil {
			removed = true
			a.Tombstone()
			return s.transition(ctx, tx, a, model.StatusRemoved, nil)
		}

		var payload activationPayloadV3
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			removed = true
			a.Tombstone()
			return s.transition(ctx, tx, a, model.StatusRemoved, nil)
		}
		deviceKeyBytes, err := base64.StdEncoding.DecodeString(payload.DevicePublicKey)
		if err == nil {
			_, err = crypto.ParsePublicKey(deviceKeyBytes)
		}
		if err != nil {
			removed = true
			a.Tombstone()
			return s.transition(ctx, tx, a, model.StatusRemoved, nil)
		}

		if a.ActivationOtpValidation == model.OtpValidationOnKeyExchange {
			stored := ""
			if a.ActivationOtp != nil {
				stored = *a.ActivationOtp
			}
			if !constantTimeEquals(stored, payload.ActivationOtp) {
				otpMismatch = true
				a.FailedAttempts++
				if a.FailedAttempts >= a.MaxFailedAttempts {
					removed = true
					a.Tombstone()
					return s.transition(ctx, tx, a, model.StatusRemoved, nil)
				}
				return nil
			}
			a.FailedAttempts = 0
		}

		ctrData, err := crypto.GenerateCtrData()
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		ctrDataB64 := encodeBase64(ctrData)

		devicePublicKey := payload.DevicePublicKey
		a.DevicePublicKey = &devicePublicKey
		a.ActivationName = strPtr(payload.ActivationName)
		a.Extras = strPtr(payload.Extras)
		a.Counter = 0
		a.CtrData = &ctrDataB64
		a.TimestampLastUsed = s.now()
		if err := s.transition(ctx, tx, a, model.StatusPendingCommit, nil); err != nil {
			return err
		}

		responsePayload, err := json.Marshal(activationResponsePayloadV3{
			ActivationID:    a.ActivationID,
			ServerPublicKey: *a.ServerPublicKey,
			CtrData:         ctrDataB64,
		})
		if err != nil {
			return err
		}
		envelope, err := crypto.EncryptEnvelope(deviceKeyBytes, responsePayload)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
		resp = &PrepareActivationResponse{
			ActivationID:       a.ActivationID,
			ActivationStatus:   model.StatusPendingCommit,
			EphemeralPublicKey: encodeBase64(envelope.EphemeralPublicKey),
			EncryptedData:      encodeBase64(envelope.EncryptedData),
			MAC:                encodeBase64(envelope.MAC),
		}
		return nil
	})
	if removed {
		s.notifyTransition(applicationID, located.ActivationID, model.StatusRemoved)
		if err == nil {
			err = model.ErrActivationExpired
		}
	}
	if err != nil {
		return nil, err
	}
	if otpMismatch {
		return nil, model.ErrInvalidActivationOtp
	}

	s.notifyTransition(applicationID, located.ActivationID, model.StatusPendingCommit)
	logger.Info("activation prepared", "activationId", located.ActivationID)
	return resp, nil
}

// PrepareActivationV2Request completes legacy version 2 key exchange for an
// activation created by InitActivation.
type PrepareActivationV2Request struct {
	ActivationIDShort string
	ActivationName    string
	Extras            string
	ActivationNonce   string
	// EphemeralPublicKey is optional; when present the envelope carries the
	// additional ephemeral encryption layer.
	EphemeralPublicKey       string
	EncryptedDevicePublicKey string
	ApplicationKey           string
	ApplicationSignature     string
}

// PrepareActivationV2Response mirrors the legacy response: the server public
// key encrypted under the version 2 envelope plus its ECDSA signature.
type PrepareActivationV2Response struct {
	ActivationID                      string
	ActivationNonce                   string
	EphemeralPublicKey                string
	EncryptedServerPublicKey          string
	EncryptedServerPublicKeySignature string
}

// PrepareActivationV2 performs the legacy key exchange against a CREATED
// version 2 record identified by its short id.
func (s *Service) PrepareActivationV2(ctx context.Context, req PrepareActivationV2Request) (*PrepareActivationV2Response, error) {
	version, err := s.store.GetApplicationVersionByKey(ctx, req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	if !version.Supported {
		return nil, model.ErrActivationExpired
	}

	located, err := s.store.FindActivationByShortID(ctx, version.ApplicationID, req.ActivationIDShort)
	if err != nil {
		return nil, err
	}

	nonce, err := decodeBase64("activationNonce", req.ActivationNonce)
	if err != nil {
		return nil, err
	}
	cDeviceKey, err := decodeBase64("encryptedDevicePublicKey", req.EncryptedDevicePublicKey)
	if err != nil {
		return nil, err
	}
	appSignature, err := decodeBase64("applicationSignature", req.ApplicationSignature)
	if err != nil {
		return nil, err
	}
	var ephemeralKey []byte
	if req.EphemeralPublicKey != "" {
		if ephemeralKey, err = decodeBase64("ephemeralPublicKey", req.EphemeralPublicKey); err != nil {
			return nil, err
		}
	}
	applicationKey, err := decodeBase64("applicationKey", req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	applicationSecret, err := decodeBase64("application secret", version.ApplicationSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: application secret unreadable", model.ErrConfig)
	}

	if !crypto.ValidateApplicationSignature(req.ActivationIDShort, nonce, cDeviceKey,
		applicationKey, applicationSecret, appSignature) {
		return nil, model.ErrActivationExpired
	}

	var (
		applicationID uint
		removed       bool
		notFound      bool
		resp          *PrepareActivationV2Response
	)
	err = s.store.WithActivationForUpdate(ctx, located.ActivationID, func(tx *gorm.DB, a *model.Activation) error {
		applicationID = a.ApplicationID

		if a.ActivationStatus != model.StatusCreated {
			return model.ErrInvalidActivationState
		}
		if a.Expired(s.now()) {
			removed = true
			return s.expireLocked(ctx, tx, a)
		}

		masterKeyPair, err := s.masterKeyPairFor(ctx, a)
		if err != nil {
			return err
		}
		masterPrivateKey, err := base64.StdEncoding.DecodeString(masterKeyPair.MasterKeyPrivate)
		if err != nil {
			return fmt.Errorf("%w: master private key unreadable", model.ErrConfig)
		}

		otp := ""
		if a.ActivationOtp != nil {
			otp = *a.ActivationOtp
		}
		deviceKeyBytes, err := crypto.DecryptDevicePublicKeyV2(cDeviceKey, a.ActivationIDShort,
			masterPrivateKey, ephemeralKey, otp, nonce)
		if err == nil {
			_, err = crypto.ParsePublicKey(deviceKeyBytes)
		}
		if err != nil {
			// a device key that fails to decrypt or parse voids the record
			removed = true
			notFound = true
			a.Tombstone()
			return s.transition(ctx, tx, a, model.StatusRemoved, nil)
		}

		devicePublicKey := encodeBase64(deviceKeyBytes)
		a.DevicePublicKey = &devicePublicKey
		a.ActivationName = strPtr(req.ActivationName)
		a.Extras = strPtr(req.Extras)
		a.Counter = 0
		a.TimestampLastUsed = s.now()
		if err := s.transition(ctx, tx, a, model.StatusPendingCommit, nil); err != nil {
			return err
		}

		resp, err = s.buildPrepareV2Response(a, deviceKeyBytes, otp, a.ActivationIDShort, masterPrivateKey)
		return err
	})
	if removed {
		s.notifyTransition(applicationID, located.ActivationID, model.StatusRemoved)
		if err == nil {
			if notFound {
				err = model.ErrActivationNotFound
			} else {
				err = model.ErrActivationExpired
			}
		}
	}
	if err != nil {
		return nil, err
	}

	s.notifyTransition(applicationID, located.ActivationID, model.StatusPendingCommit)
	logger.Info("activation prepared", "activationId", located.ActivationID, "version", 2)
	return resp, nil
}

// buildPrepareV2Response encrypts the server public key under the version 2
// envelope and signs it with the master private key. When signing fails the
// signature field degrades to random bytes of the usual DER length instead of
// failing the exchange.
func (s *Service) buildPrepareV2Response(a *model.Activation, deviceKeyBytes []byte, otp, identity string, masterPrivateKey []byte) (*PrepareActivationV2Response, error) {
	responseNonce, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	ephemeralKeyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}
	serverPublicKey, err := base64.StdEncoding.DecodeString(*a.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored server public key is corrupted", model.ErrCryptoFailure)
	}

	cServerPublicKey, err := crypto.EncryptServerPublicKeyV2(serverPublicKey, deviceKeyBytes,
		crypto.PrivateKeyBytes(ephemeralKeyPair), otp, identity, responseNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
	}

	signature, err := crypto.ComputeServerDataSignature(a.ActivationID, cServerPublicKey, masterPrivateKey)
	if err != nil {
		if signature, err = crypto.RandomBytes(71); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrCryptoFailure, err)
		}
	}

	return &PrepareActivationV2Response{
		ActivationID:                      a.ActivationID,
		ActivationNonce:                   encodeBase64(responseNonce),
		EphemeralPublicKey:                encodeBase64(crypto.PublicKeyBytes(ephemeralKeyPair.PublicKey())),
		EncryptedServerPublicKey:          encodeBase64(cServerPublicKey),
		EncryptedServerPublicKeySignature: encodeBase64(signature),
	}, nil
}

// CreateActivationV2Request is the legacy combined init plus key exchange.
// The caller supplies the identity string and OTP that keyed the envelope out
// of band; the server never advertises them.
type CreateActivationV2Request struct {
	UserID         string
	ApplicationKey string

	Identity      string
	ActivationOtp string

	ActivationName string
	Extras         string

	MaxFailedAttempts *uint32

	ActivationNonce          string
	EphemeralPublicKey       string
	EncryptedDevicePublicKey string
	ApplicationSignature     string
}

// CreateActivationV2 creates a version 2 activation and completes its key
// exchange in one call, for flows where the identity proof happens outside
// the activation code channel.
func (s *Service) CreateActivationV2(ctx context.Context, req CreateActivationV2Request) (*PrepareActivationV2Response, error) {
	if req.Identity == "" {
		return nil, fmt.Errorf("%w: missing identity", model.ErrInvalidInput)
	}
	version, err := s.store.GetApplicationVersionByKey(ctx, req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	if !version.Supported {
		return nil, model.ErrActivationExpired
	}

	nonce, err := decodeBase64("activationNonce", req.ActivationNonce)
	if err != nil {
		return nil, err
	}
	cDeviceKey, err := decodeBase64("encryptedDevicePublicKey", req.EncryptedDevicePublicKey)
	if err != nil {
		return nil, err
	}
	appSignature, err := decodeBase64("applicationSignature", req.ApplicationSignature)
	if err != nil {
		return nil, err
	}
	var ephemeralKey []byte
	if req.EphemeralPublicKey != "" {
		if ephemeralKey, err = decodeBase64("ephemeralPublicKey", req.EphemeralPublicKey); err != nil {
			return nil, err
		}
	}
	applicationKey, err := decodeBase64("applicationKey", req.ApplicationKey)
	if err != nil {
		return nil, err
	}
	applicationSecret, err := decodeBase64("application secret", version.ApplicationSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: application secret unreadable", model.ErrConfig)
	}

	if !crypto.ValidateApplicationSignature(req.Identity, nonce, cDeviceKey,
		applicationKey, applicationSecret, appSignature) {
		return nil, model.ErrActivationExpired
	}

	initResp, err := s.InitActivation(ctx, InitActivationRequest{
		UserID:            req.UserID,
		ApplicationID:     version.ApplicationID,
		Version:           2,
		MaxFailedAttempts: req.MaxFailedAttempts,
	})
	if err != nil {
		return nil, err
	}

	masterKeyPair, err := s.store.LatestMasterKeyPair(ctx, version.ApplicationID)
	if err != nil {
		return nil, err
	}
	masterPrivateKey, err := base64.StdEncoding.DecodeString(masterKeyPair.MasterKeyPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: master private key unreadable", model.ErrConfig)
	}

	deviceKeyBytes, err := crypto.DecryptDevicePublicKeyV2(cDeviceKey, req.Identity,
		masterPrivateKey, ephemeralKey, req.ActivationOtp, nonce)
	if err == nil {
		_, err = crypto.ParsePublicKey(deviceKeyBytes)
	}
	if err != nil {
		// void the freshly created record before reporting failure
		if removeErr := s.RemoveActivation(ctx, initResp.ActivationID, nil); removeErr != nil {
			logger.Warn("failed to remove voided activation",
				"activationId", initResp.ActivationID, "error", removeErr)
		}
		return nil, model.ErrActivationNotFound
	}

	var resp *PrepareActivationV2Response
	err = s.store.WithActivationForUpdate(ctx, initResp.ActivationID, func(tx *gorm.DB, a *model.Activation) error {
		devicePublicKey := encodeBase64(deviceKeyBytes)
		a.DevicePublicKey = &devicePublicKey
		a.ActivationName = strPtr(req.ActivationName)
		a.Extras = strPtr(req.Extras)
		a.Counter = 0
		a.TimestampLastUsed = s.now()
		if err := s.transition(ctx, tx, a, model.StatusPendingCommit, nil); err != nil {
			return err
		}
		resp, err = s.buildPrepareV2Response(a, deviceKeyBytes, req.ActivationOtp, req.Identity, masterPrivateKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(version.ApplicationID, initResp.ActivationID, model.StatusPendingCommit)
	logger.Info("activation created", "activationId", initResp.ActivationID, "version", 2)
	return resp, nil
}
