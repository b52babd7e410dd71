package routes

import (
	"log/slog"

	"github.com/vgo-rewards/vgo_portal/internal/config"
	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/notification"
)

// newBackend selects the credential backend. The memory backend texts its codes
// through Twilio when an account is configured and logs them otherwise.
func newBackend(cfg config.Config, logger *slog.Logger) (credential.Backend, error) {
	if !cfg.UsesMemoryBackend() {
		return credential.NewGoTrue(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.CredentialTimeout), nil
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		notifier = notification.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	logger.Warn("using in-memory credential backend; identities are lost on restart")
	memory, err := credential.NewMemory(credential.MemoryConfig{
		Secret:     cfg.SessionSecret,
		SessionTTL: cfg.SessionTTL,
		OTPTTL:     cfg.OTPTTL,
		Providers:  cfg.OAuthProviders,
	}, notifier)
	if err != nil {
		return nil, err
	}
	return memory, nil
}
