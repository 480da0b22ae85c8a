package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SettingsModel struct {
	DB *sql.DB
}

// GetForUser returns the user's stored settings, falling back to defaults
// when no row exists. Missing JSON list columns decode to empty slices.
func (m SettingsModel) GetForUser(ctx context.Context, userID uuid.UUID) (UserSettings, error) {
	s := DefaultUserSettings(userID)

	query := `
		SELECT detection_model, detection_device, detection_confidence, enabled_classes,
		       vlm_provider, vlm_model, vlm_url,
		       openai_api_key, openai_model, openai_base_url,
		       gemini_api_key, gemini_model,
		       auto_summarize, safety_scan_enabled, safety_scan_interval,
		       notifications_enabled, min_severity, notify_event_types,
		       telegram_enabled, telegram_bot_token, telegram_chat_id, telegram_send_photo,
		       email_enabled, email_smtp_host, email_smtp_port, email_smtp_user,
		       email_smtp_password, email_from_address, email_recipients
		FROM user_settings WHERE user_id = $1`

	var (
		enabledClasses, notifyTypes, recipients []byte
		scanInterval                            int
		minSeverity                             string
		openaiKey, openaiURL                    sql.NullString
		geminiKey                               sql.NullString
		tgToken, tgChat                         sql.NullString
		smtpHost, smtpUser, smtpPass, fromAddr  sql.NullString
	)
	err := m.DB.QueryRowContext(ctx, query, userID).Scan(
		&s.DetectionModel, &s.DetectionDevice, &s.DetectionConfidence, &enabledClasses,
		&s.VLMProvider, &s.VLMModel, &s.VLMURL,
		&openaiKey, &s.OpenAIModel, &openaiURL,
		&geminiKey, &s.GeminiModel,
		&s.AutoSummarize, &s.SafetyScanEnabled, &scanInterval,
		&s.NotificationsEnabled, &minSeverity, &notifyTypes,
		&s.TelegramEnabled, &tgToken, &tgChat, &s.TelegramSendPhoto,
		&s.EmailEnabled, &smtpHost, &s.EmailSMTPPort, &smtpUser,
		&smtpPass, &fromAddr, &recipients,
	)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("get settings for user %s: %w", userID, err)
	}

	s.OpenAIAPIKey = openaiKey.String
	s.OpenAIBaseURL = openaiURL.String
	s.GeminiAPIKey = geminiKey.String
	s.TelegramBotToken = tgToken.String
	s.TelegramChatID = tgChat.String
	s.EmailSMTPHost = smtpHost.String
	s.EmailSMTPUser = smtpUser.String
	s.EmailSMTPPassword = smtpPass.String
	s.EmailFromAddress = fromAddr.String

	if scanInterval > 0 {
		s.SafetyScanInterval = time.Duration(scanInterval) * time.Second
	}
	if sev, ok := ParseSeverity(minSeverity); ok {
		s.MinSeverity = sev
	}
	if len(enabledClasses) > 0 {
		_ = json.Unmarshal(enabledClasses, &s.EnabledClasses)
	}
	if len(notifyTypes) > 0 {
		_ = json.Unmarshal(notifyTypes, &s.NotifyEventTypes)
	}
	if len(recipients) > 0 {
		_ = json.Unmarshal(recipients, &s.EmailRecipients)
	}
	return s, nil
}
