package cipher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"keymesh/internal/domain"
)

// DefaultFanOutLimit bounds how many devices are encrypted for concurrently
// within one send.
const DefaultFanOutLimit = 8

// Service implements domain.MessageCipher.
type Service struct {
	sessions  domain.SessionManager
	directory domain.Directory

	userID      string
	deviceID    uint32
	fanOutLimit int
	logger      *logrus.Logger
}

// New wires a Service. fanOutLimit <= 0 falls back to DefaultFanOutLimit.
func New(sessions domain.SessionManager, dir domain.Directory, userID string, deviceID uint32, fanOutLimit int, logger *logrus.Logger) *Service {
	if fanOutLimit <= 0 {
		fanOutLimit = DefaultFanOutLimit
	}
	return &Service{
		sessions:    sessions,
		directory:   dir,
		userID:      userID,
		deviceID:    deviceID,
		fanOutLimit: fanOutLimit,
		logger:      logger,
	}
}

var _ domain.MessageCipher = (*Service)(nil)

// SendToRecipients encrypts plaintext once per recipient device and collects
// the slots into a single envelope. Per-device outcomes are reported in the
// result slice; the returned error is reserved for the case where not a
// single device could be encrypted for.
func (s *Service) SendToRecipients(ctx context.Context, plaintext []byte, recipients []string) (domain.Envelope, []domain.SendResult, error) {
	env := domain.Envelope{
		SenderDeviceID: s.deviceID,
		Recipients:     make(map[string]map[uint32]domain.DeviceCiphertext),
	}

	var (
		mu      sync.Mutex
		results []domain.SendResult
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOutLimit)

	for _, user := range recipients {
		devices, err := s.directory.ListDevices(ctx, user)
		if err != nil {
			results = append(results, domain.SendResult{
				Address: domain.ProtocolAddress{UserID: user},
				Err:     err,
			})
			continue
		}

		targets := make([]domain.DeviceInfo, 0, len(devices))
		for _, d := range devices {
			if !d.Capable {
				continue
			}
			if user == s.userID && d.DeviceID == s.deviceID {
				// Never encrypt to the sending device itself.
				continue
			}
			targets = append(targets, d)
		}
		if len(targets) == 0 {
			results = append(results, domain.SendResult{
				Address: domain.ProtocolAddress{UserID: user},
				Err:     fmt.Errorf("%s: %w", user, domain.ErrNoEncryptionCapableDevices),
			})
			continue
		}

		for _, d := range targets {
			addr := domain.ProtocolAddress{UserID: user, DeviceID: d.DeviceID}
			g.Go(func() error {
				ct, res := s.encryptFor(ctx, addr, plaintext)
				mu.Lock()
				defer mu.Unlock()
				results = append(results, res)
				if res.Err == nil {
					if env.Recipients[addr.UserID] == nil {
						env.Recipients[addr.UserID] = make(map[uint32]domain.DeviceCiphertext)
					}
					env.Recipients[addr.UserID][addr.DeviceID] = ct
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(env.Recipients) == 0 {
		return domain.Envelope{}, results, fmt.Errorf("send to %v: %w", recipients, domain.ErrNoEncryptionCapableDevices)
	}
	return env, results, nil
}

func (s *Service) encryptFor(ctx context.Context, addr domain.ProtocolAddress, plaintext []byte) (domain.DeviceCiphertext, domain.SendResult) {
	if err := s.sessions.EnsureSession(ctx, addr); err != nil {
		s.logger.WithError(err).WithField("peer", addr.String()).Warn("session establishment failed")
		return domain.DeviceCiphertext{}, domain.SendResult{Address: addr, Err: err}
	}
	ct, err := s.sessions.Encrypt(ctx, addr, plaintext)
	if err != nil {
		s.logger.WithError(err).WithField("peer", addr.String()).Warn("encrypt failed")
		return domain.DeviceCiphertext{}, domain.SendResult{Address: addr, Err: err}
	}
	return ct, domain.SendResult{Address: addr, MessageType: ct.MessageType}
}

// Receive opens this device's slot in env. Missing slots and replays are
// reported through the result status, not as errors.
func (s *Service) Receive(ctx context.Context, env domain.Envelope, senderUserID string) (domain.ReceiveResult, error) {
	sender := domain.ProtocolAddress{UserID: senderUserID, DeviceID: env.SenderDeviceID}

	slot, ok := env.Recipients[s.userID][s.deviceID]
	if !ok {
		return domain.ReceiveResult{Status: domain.ReceiveNotForThisDevice, Sender: sender}, nil
	}

	pt, err := s.sessions.Decrypt(ctx, sender, slot)
	if errors.Is(err, domain.ErrNoSession) {
		// One fetch-and-retry, never a loop: the peer may have re-established
		// since this envelope was addressed.
		if ensureErr := s.sessions.EnsureSession(ctx, sender); ensureErr != nil {
			return domain.ReceiveResult{}, fmt.Errorf("recover session with %s: %w", sender, ensureErr)
		}
		pt, err = s.sessions.Decrypt(ctx, sender, slot)
	}
	if errors.Is(err, domain.ErrDuplicateMessage) {
		s.logger.WithField("peer", sender.String()).Debug("dropping replayed ciphertext")
		return domain.ReceiveResult{Status: domain.ReceiveDuplicate, Sender: sender}, nil
	}
	if err != nil {
		return domain.ReceiveResult{}, err
	}
	return domain.ReceiveResult{Status: domain.ReceiveDelivered, Sender: sender, Plaintext: pt}, nil
}
