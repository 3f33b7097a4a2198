package app

import (
	"os"

	"github.com/sirupsen/logrus"

	"keymesh/internal/directory"
	"keymesh/internal/domain"
	ciphersvc "keymesh/internal/services/cipher"
	keygensvc "keymesh/internal/services/keygen"
	"keymesh/internal/services/maintenance"
	sessionsvc "keymesh/internal/services/session"
	"keymesh/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI. The secure
// store is unlocked once here with the supplied passphrase; everything
// downstream shares it.
type Wire struct {
	Config Config
	Logger *logrus.Logger

	Secure    domain.SecureStore
	Sessions  domain.SessionStore
	Trust     domain.TrustStore
	Directory domain.Directory

	Keys        domain.KeyGenerator
	Manager     domain.SessionManager
	Cipher      domain.MessageCipher
	Maintenance *maintenance.Runner
}

// NewWire constructs the dependency graph from cfg. onAlert may be nil.
func NewWire(cfg Config, passphrase string, onAlert sessionsvc.SecurityEventFunc) (*Wire, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()

	secure := store.NewSecureFileStore(cfg.Home, passphrase)
	prekeys := store.NewPreKeyFileStore(cfg.Home)
	sessions := store.NewSessionFileStore(cfg.Home)
	trust := store.NewTrustFileStore(cfg.Home)

	dir := directory.NewClient(cfg.DirectoryURL, cfg.HTTPTimeout, cfg.ReplenishThreshold)

	keys := keygensvc.New(secure, prekeys, prekeys, prekeys, cfg.UserID, cfg.DeviceID, logger)
	manager := sessionsvc.New(secure, prekeys, prekeys, prekeys, sessions, trust, dir, cfg.UserID, logger, onAlert)
	cipher := ciphersvc.New(manager, dir, cfg.UserID, cfg.DeviceID, cfg.FanOutLimit, logger)
	runner := maintenance.New(keys, dir, cfg.UserID, cfg.DeviceID, maintenance.Config{
		Interval:           cfg.MaintenanceInterval,
		SignedPreKeyMaxAge: cfg.SignedPreKeyMaxAge,
		SignedPreKeyGrace:  cfg.SignedPreKeyGrace,
		ReplenishThreshold: cfg.ReplenishThreshold,
	}, logger)

	return &Wire{
		Config:      cfg,
		Logger:      logger,
		Secure:      secure,
		Sessions:    sessions,
		Trust:       trust,
		Directory:   dir,
		Keys:        keys,
		Manager:     manager,
		Cipher:      cipher,
		Maintenance: runner,
	}, nil
}
