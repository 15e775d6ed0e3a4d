package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramService struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	vehicleID string
	logger    *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:       bot,
		chatID:    chatID,
		vehicleID: cfg.VehicleID,
		logger:    logger,
	}

	if err := ts.testConnection(); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := ts.bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (ts *TelegramService) Name() string { return "telegram" }

// Notify sends a formatted alert message to the configured chat
func (ts *TelegramService) Notify(_ context.Context, alerts []*models.Alert, reading *models.Reading) error {
	if len(alerts) == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(ts.chatID, formatAlertMessage(ts.vehicleID, alerts, reading))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	return nil
}

// SendStartupMessage sends a message when the dashboard starts
func (ts *TelegramService) SendStartupMessage(source string) error {
	message := "🟢 <b>DriveWatch Dashboard Started</b>\n\n" +
		fmt.Sprintf("🚗 <b>Vehicle:</b> %s\n", ts.vehicleID) +
		fmt.Sprintf("📡 <b>Source:</b> %s\n", source) +
		fmt.Sprintf("🕐 <b>Time:</b> %s", time.Now().Format("2006-01-02 15:04:05"))

	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// formatAlertMessage creates a mobile-friendly alert message
func formatAlertMessage(vehicleID string, alerts []*models.Alert, reading *models.Reading) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>DRIVEWATCH ALERT</b> 🚨\n\n")

	sb.WriteString(fmt.Sprintf("🚗 <b>Vehicle:</b> %s\n", vehicleID))
	if len(alerts) > 0 {
		sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", alerts[0].Timestamp.Format("2006-01-02 15:04:05")))
	}

	sb.WriteString("📊 <b>Current Readings:</b>\n")
	classification := models.Classify(reading)
	sb.WriteString(fmt.Sprintf("🏎️ Speed: %s (%s)\n", formatFloat(readingSpeed(reading), "km/h"), classification.Speed))
	sb.WriteString(fmt.Sprintf("⚙️ RPM: %s\n", formatFloat(readingRPM(reading), "")))
	sb.WriteString(fmt.Sprintf("😴 Driver: %s\n", classification.Drowsiness))
	sb.WriteString(fmt.Sprintf("🛞 Steering: %s\n", classification.Steering))
	sb.WriteString(fmt.Sprintf("🔄 Rollover: %s\n\n", classification.Rollover))

	sb.WriteString("⚠️ <b>Detected Issues:</b>\n")
	for i, alert := range alerts {
		sb.WriteString(fmt.Sprintf("%s %s <b>%s</b>\n",
			alert.GetSeverityColor(),
			alert.GetAlertEmoji(),
			alertTitle(alert)))

		sb.WriteString(fmt.Sprintf("   └ %s\n", alert.Description))

		if i < len(alerts)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n🔴 <b>Status:</b> ATTENTION REQUIRED")

	return sb.String()
}

// alertTitle returns a user-friendly title for the alert
func alertTitle(alert *models.Alert) string {
	switch alert.Type {
	case models.AlertSpeedDanger:
		return "Dangerous Speed"
	case models.AlertSpeedWarning:
		return "High Speed"
	case models.AlertDriverDrowsy:
		return "Driver Drowsiness"
	case models.AlertSteeringInactive:
		return "Steering Inactive"
	case models.AlertRollover:
		return "Rollover Detected"
	default:
		return "Vehicle Alert"
	}
}

func readingSpeed(r *models.Reading) *float64 {
	if r == nil {
		return nil
	}
	return r.Speed
}

func readingRPM(r *models.Reading) *float64 {
	if r == nil {
		return nil
	}
	return r.RPM
}

func formatFloat(v *float64, unit string) string {
	if v == nil {
		return "N/A"
	}
	if unit == "" {
		return fmt.Sprintf("%.0f", *v)
	}
	return fmt.Sprintf("%.0f %s", *v, unit)
}
